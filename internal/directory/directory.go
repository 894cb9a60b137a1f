// Package directory keeps track of the channels and groups users publish to
// and who may publish there.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"postbot/internal/model"
	"postbot/internal/storage"
)

var (
	// ErrNotAdmin is returned when a user registers a chat they do not administer.
	ErrNotAdmin = errors.New("not an administrator of the chat")
	// ErrNoAccess is returned when a user has no role in a chat's project.
	ErrNoAccess = errors.New("no access to the chat")
	// ErrForbidden is returned when a user's role does not allow the action.
	ErrForbidden = errors.New("only project owners can do this")
	// ErrInvalidInvite is returned for unknown or already used invite codes.
	ErrInvalidInvite = errors.New("invite code is invalid or already used")
	// ErrBadChatRef is returned for chat references that are neither
	// @usernames nor numeric IDs.
	ErrBadChatRef = errors.New("chat must be @username or a numeric ID")
)

// API is the part of the Telegram Bot API the directory needs.
type API interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Store is the persistence the directory needs.
type Store interface {
	CreateProject(ctx context.Context, p *model.Project, ownerID int64) error
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	GetProjectByChat(ctx context.Context, chatRef string) (*model.Project, error)
	ListProjects(ctx context.Context, userID int64) ([]model.Project, error)
	MemberRole(ctx context.Context, projectID, userID int64) (model.Role, error)
	AddMember(ctx context.Context, projectID, userID int64, role model.Role) error
	CreateInvite(ctx context.Context, inv *model.Invite) error
	GetInvite(ctx context.Context, code string) (*model.Invite, error)
	MarkInviteUsed(ctx context.Context, code string) error
}

// Directory resolves chats and checks project roles.
type Directory struct {
	api   API
	store Store
	chats *lru.Cache[string, tgbotapi.Chat]
	log   *slog.Logger
}

// New creates a Directory caching up to cacheSize resolved chats.
func New(api API, store Store, cacheSize int, log *slog.Logger) (*Directory, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, tgbotapi.Chat](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("chat cache: %w", err)
	}
	return &Directory{api: api, store: store, chats: cache, log: log}, nil
}

// Canonical resolves a chat reference and returns the form projects and posts
// store: "@username" for public chats, the numeric ID otherwise.
func (d *Directory) Canonical(ctx context.Context, ref string) (string, error) {
	chat, err := d.resolve(ref)
	if err != nil {
		return "", err
	}
	return canonical(chat), nil
}

// Register binds a chat to a new project owned by userID. The user must be the
// creator or an administrator of the chat. Registering an already known chat
// returns its project, adding the administrator as an owner if needed.
func (d *Directory) Register(ctx context.Context, userID int64, ref string) (*model.Project, error) {
	chat, err := d.resolve(ref)
	if err != nil {
		return nil, err
	}

	cfg := tgbotapi.GetChatMemberConfig{ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chat.ID, UserID: userID}}
	member, err := d.api.GetChatMember(cfg)
	if err != nil {
		return nil, fmt.Errorf("get chat member: %w", err)
	}
	if !member.IsCreator() && !member.IsAdministrator() {
		return nil, ErrNotAdmin
	}

	chatRef := canonical(chat)
	existing, err := d.store.GetProjectByChat(ctx, chatRef)
	switch {
	case err == nil:
		return d.join(ctx, existing, userID, model.RoleOwner)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load project: %w", err)
	}

	p := &model.Project{ChatRef: chatRef, Title: title(chat)}
	if err := d.store.CreateProject(ctx, p, userID); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	d.log.InfoContext(ctx, "project registered", "project_id", p.ID, "chat", chatRef, "owner", userID)
	return p, nil
}

func (d *Directory) join(ctx context.Context, p *model.Project, userID int64, role model.Role) (*model.Project, error) {
	current, err := d.store.MemberRole(ctx, p.ID, userID)
	if err == nil {
		p.Role = current
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("member role: %w", err)
	}
	if err := d.store.AddMember(ctx, p.ID, userID, role); err != nil && !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("add member: %w", err)
	}
	p.Role = role
	return p, nil
}

// Projects lists the projects userID belongs to.
func (d *Directory) Projects(ctx context.Context, userID int64) ([]model.Project, error) {
	return d.store.ListProjects(ctx, userID)
}

// Role returns userID's role in the project bound to a chat. Users outside the
// project, and chats without one, yield ErrNoAccess.
func (d *Directory) Role(ctx context.Context, userID int64, ref string) (model.Role, error) {
	chatRef, err := d.Canonical(ctx, ref)
	if err != nil {
		return "", err
	}
	p, err := d.store.GetProjectByChat(ctx, chatRef)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNoAccess
		}
		return "", fmt.Errorf("load project: %w", err)
	}
	role, err := d.store.MemberRole(ctx, p.ID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNoAccess
		}
		return "", fmt.Errorf("member role: %w", err)
	}
	return role, nil
}

// CanPublish returns the canonical references of chats if userID is an owner
// or editor of every one of them.
func (d *Directory) CanPublish(ctx context.Context, userID int64, chats []string) ([]string, error) {
	refs := make([]string, 0, len(chats))
	seen := make(map[string]bool)
	for _, c := range chats {
		role, err := d.Role(ctx, userID, c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		if role != model.RoleOwner && role != model.RoleEditor {
			return nil, fmt.Errorf("%s: %w", c, ErrNoAccess)
		}
		ref, err := d.Canonical(ctx, c)
		if err != nil {
			return nil, err
		}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// CreateInvite issues a single-use code granting role in a project. Only the
// project's owners may invite.
func (d *Directory) CreateInvite(ctx context.Context, ownerID, projectID int64, role model.Role) (*model.Invite, error) {
	if role != model.RoleOwner && role != model.RoleEditor {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	current, err := d.store.MemberRole(ctx, projectID, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("member role: %w", err)
	}
	if current != model.RoleOwner {
		return nil, ErrForbidden
	}

	inv := &model.Invite{
		Code:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		ProjectID: projectID,
		Role:      role,
	}
	if err := d.store.CreateInvite(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}
	return inv, nil
}

// UseInvite redeems an invite code for userID. The code is spent even when
// the user already belongs to the project; their role is then unchanged.
func (d *Directory) UseInvite(ctx context.Context, code string, userID int64) (*model.Project, error) {
	code = strings.TrimSpace(code)
	inv, err := d.store.GetInvite(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidInvite
		}
		return nil, fmt.Errorf("load invite: %w", err)
	}
	if inv.Used {
		return nil, ErrInvalidInvite
	}
	if err := d.store.MarkInviteUsed(ctx, code); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidInvite
		}
		return nil, fmt.Errorf("mark invite used: %w", err)
	}

	p, err := d.store.GetProject(ctx, inv.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	p, err = d.join(ctx, p, userID, inv.Role)
	if err != nil {
		return nil, err
	}
	d.log.InfoContext(ctx, "invite used", "project_id", p.ID, "user_id", userID, "role", p.Role)
	return p, nil
}

func (d *Directory) resolve(ref string) (tgbotapi.Chat, error) {
	key, cfg, err := chatConfig(ref)
	if err != nil {
		return tgbotapi.Chat{}, err
	}
	if chat, ok := d.chats.Get(key); ok {
		return chat, nil
	}
	chat, err := d.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: cfg})
	if err != nil {
		return tgbotapi.Chat{}, fmt.Errorf("get chat %s: %w", ref, err)
	}
	d.chats.Add(key, chat)
	return chat, nil
}

func chatConfig(ref string) (string, tgbotapi.ChatConfig, error) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		if name == "" {
			return "", tgbotapi.ChatConfig{}, ErrBadChatRef
		}
		return "@" + strings.ToLower(name), tgbotapi.ChatConfig{SuperGroupUsername: ref}, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id == 0 {
		return "", tgbotapi.ChatConfig{}, fmt.Errorf("%q: %w", ref, ErrBadChatRef)
	}
	return strconv.FormatInt(id, 10), tgbotapi.ChatConfig{ChatID: id}, nil
}

func canonical(chat tgbotapi.Chat) string {
	if chat.UserName != "" {
		return "@" + strings.ToLower(chat.UserName)
	}
	return strconv.FormatInt(chat.ID, 10)
}

func title(chat tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return canonical(chat)
}
