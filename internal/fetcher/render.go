package fetcher

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// ExcerptLength is the longest excerpt, in characters, put into a message.
const ExcerptLength = 400

var strict = bluemonday.StrictPolicy()

// blockBreaks keeps words from adjacent blocks apart once tags are stripped.
var blockBreaks = strings.NewReplacer(
	"</p>", " </p>",
	"<br", " <br",
	"</div>", " </div>",
	"</li>", " </li>",
	"</h1>", " </h1>",
	"</h2>", " </h2>",
	"</h3>", " </h3>",
	"</blockquote>", " </blockquote>",
	"</td>", " </td>",
)

// PlainText strips HTML from s and collapses whitespace.
func PlainText(s string) string {
	text := html.UnescapeString(strict.Sanitize(blockBreaks.Replace(s)))
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// Excerpt is PlainText cut to at most limit characters on a word boundary,
// marking the cut with "...".
func Excerpt(s string, limit int) string {
	text := PlainText(s)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:limit])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

// Render formats an entry as an HTML Telegram message: bold title, plain
// excerpt and a link to the full article.
func Render(e Entry) string {
	var parts []string
	if e.Title != "" {
		parts = append(parts, "<b>"+html.EscapeString(e.Title)+"</b>")
	}
	if ex := Excerpt(e.Summary, ExcerptLength); ex != "" {
		parts = append(parts, html.EscapeString(ex))
	}
	if e.Link != "" {
		parts = append(parts, `<a href="`+html.EscapeString(e.Link)+`">Read more</a>`)
	}
	return strings.Join(parts, "\n\n")
}

// ImageURL finds the first image attached to an item: a media:content or
// enclosure of an image type, the item image, or the first <img> in its HTML.
func ImageURL(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, ext := range media["content"] {
			if strings.HasPrefix(ext.Attrs["type"], "image/") && ext.Attrs["url"] != "" {
				return ext.Attrs["url"]
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, doc := range []string{item.Content, item.Description} {
		if src := firstImage(doc); src != "" {
			return src
		}
	}
	return ""
}

func firstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return ""
	}
	return src
}
