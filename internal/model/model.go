// Package model defines the domain types used across the application.
package model

import "time"

// PostStatus is the lifecycle state of a Post.
type PostStatus string

// Post statuses.
const (
	StatusDraft             PostStatus = "draft"
	StatusScheduled         PostStatus = "scheduled"
	StatusPendingReschedule PostStatus = "pending_reschedule"
	StatusSent              PostStatus = "sent"
	StatusSendingFailed     PostStatus = "sending_failed"
	StatusMediaError        PostStatus = "media_error"
	StatusNoChats           PostStatus = "no_chats"
	StatusError             PostStatus = "error"
	StatusDeleted           PostStatus = "deleted"
	StatusDeletionFailed    PostStatus = "deletion_failed"
	StatusDeletionSkipped   PostStatus = "deletion_skipped"
	StatusDeletionError     PostStatus = "deletion_error"
)

// ScheduleKind tells whether a post fires once or on a recurrence.
type ScheduleKind string

// Supported schedule kinds.
const (
	ScheduleOneTime   ScheduleKind = "one_time"
	ScheduleRecurring ScheduleKind = "recurring"
)

// RecurrenceKind selects the cadence of a recurring post.
type RecurrenceKind string

// Supported recurrence kinds.
const (
	RecurDaily   RecurrenceKind = "daily"
	RecurWeekly  RecurrenceKind = "weekly"
	RecurMonthly RecurrenceKind = "monthly"
	RecurYearly  RecurrenceKind = "yearly"
)

// Recurrence is the user-facing description of a repeating schedule.
// Time is "HH:MM" in the scheduler's time zone; MonthDay is "DD.MM".
type Recurrence struct {
	Kind       RecurrenceKind `json:"type"`
	Time       string         `json:"time"`
	DaysOfWeek []string       `json:"days_of_week,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
	MonthDay   string         `json:"month_day,omitempty"`
}

// MediaType is the kind of a media attachment.
type MediaType string

// Supported media types.
const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
)

// MediaRef points at a media item: a Telegram file ID or an http(s) URL.
type MediaRef struct {
	Type MediaType `json:"type"`
	Ref  string    `json:"ref"`
}

// Receipts maps a target chat to the message IDs delivered there.
type Receipts map[string][]int

// Post is a piece of content scheduled for publication to one or more chats.
type Post struct {
	ID                 int64
	UserID             int64
	ChatIDs            []string
	ScheduleKind       ScheduleKind
	Recurrence         *Recurrence
	RunAt              *time.Time
	Text               string
	Media              []MediaRef
	DeleteAfterSeconds int
	Status             PostStatus
	Receipts           Receipts
	SentAt             *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Publishable reports whether a publish job may deliver this post now.
// Recurring posts stay publishable after each occurrence until they are
// canceled or hit an error that needs user attention.
func (p *Post) Publishable() bool {
	switch p.Status {
	case StatusScheduled, StatusPendingReschedule:
		return true
	case StatusSent, StatusSendingFailed, StatusDeleted,
		StatusDeletionFailed, StatusDeletionSkipped, StatusDeletionError:
		return p.ScheduleKind == ScheduleRecurring
	}
	return false
}

// HasReceipts reports whether at least one chat recorded a delivered message.
func (p *Post) HasReceipts() bool {
	for _, ids := range p.Receipts {
		if len(ids) > 0 {
			return true
		}
	}
	return false
}

// Feed represents an RSS feed subscription.
type Feed struct {
	ID               int64
	UserID           int64
	URL              string
	ChatIDs          []string
	FrequencyMinutes int
	Keywords         []string
	LastCheckedAt    *time.Time
	IsActive         bool
	CreatedAt        time.Time
}

// FeedItem is a ledger entry for an RSS item seen by a feed.
type FeedItem struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	Link        string
	Description string
	PublishedAt *time.Time
	IsPosted    bool
	CreatedAt   time.Time
}

// Role is a member's permission level inside a project.
type Role string

// Supported roles.
const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
)

// Project binds a channel or group the bot can publish to.
type Project struct {
	ID        int64
	ChatRef   string
	Title     string
	Role      Role // role of the querying user, set by listing queries
	CreatedAt time.Time
}

// Invite is a single-use code that grants a role in a project.
type Invite struct {
	Code      string
	ProjectID int64
	Role      Role
	Used      bool
	CreatedAt time.Time
}

// TriggerKind selects how a job's fire times are computed.
type TriggerKind string

// Supported trigger kinds.
const (
	TriggerDate     TriggerKind = "date"
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
)

// Trigger describes when a job fires.
type Trigger struct {
	Kind     TriggerKind
	RunAt    time.Time     // date
	Cron     string        // cron: 5-field expression in the scheduler zone
	Interval time.Duration // interval
}

// Job is a persisted, time-triggered invocation of a registered handler.
type Job struct {
	ID        string
	Kind      string
	RefID     int64
	Trigger   Trigger
	NextRunAt time.Time
	CreatedAt time.Time
}
