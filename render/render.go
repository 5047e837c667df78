// Package render turns a thread's rich-content document into a bounded
// markdown announcement.
package render

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"spectrum-notifier/pkg/notifier"
)

const (
	// MaxDescription is the character budget of a description, notice included.
	MaxDescription = 4000
	// MaxTitle is the character budget of a title.
	MaxTitle = 256

	TruncationNotice = "\n\n*…view the full post on Spectrum.*"
	NoContent        = "*no content found*"

	defaultTitle  = "New Spectrum thread"
	unknownAuthor = "Unknown author"
)

type section int

const (
	sectionNone section = iota
	sectionKnownIssues
	sectionBugFixes
)

type pieceKind int

const (
	pieceText pieceKind = iota
	pieceImage
)

type piece struct {
	text string
	kind pieceKind
}

// Config holds the URL settings of the renderer.
type Config struct {
	BaseURL   string
	Community string
}

// Renderer builds announcements.
type Renderer struct {
	policy    *bluemonday.Policy
	baseURL   string
	community string
}

// New creates a renderer.
func New(cfg Config) *Renderer {
	return &Renderer{
		policy:    bluemonday.StrictPolicy(),
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		community: cfg.Community,
	}
}

// Render builds the full announcement for a thread.
func (r *Renderer) Render(d *notifier.ThreadDetail) notifier.RenderedThread {
	title := r.clean(d.Subject)
	if title == "" {
		title = defaultTitle
	}
	return notifier.RenderedThread{
		Title:           truncateRunes(title, MaxTitle),
		URL:             r.ThreadURL(d.ForumID, d.Slug, d.ID),
		AuthorName:      authorName(d.Author),
		AuthorAvatarURL: d.Author.AvatarURL,
		Description:     r.Description(d),
		ImageURL:        ImageURL(d),
		Timestamp:       d.CreatedAt,
	}
}

// ThreadURL is the canonical public URL of a thread. The id stands in for a
// missing slug.
func (r *Renderer) ThreadURL(forumID, slug string, id *notifier.ThreadID) string {
	if slug == "" {
		slug = id.String()
	}
	return fmt.Sprintf("%s/spectrum/community/%s/forum/%s/thread/%s", r.baseURL, r.community, forumID, slug)
}

func authorName(a notifier.Author) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	if nick := strings.TrimSpace(a.Nickname); nick != "" {
		return nick
	}
	return unknownAuthor
}

// Description renders the document body within MaxDescription characters.
func (r *Renderer) Description(d *notifier.ThreadDetail) string {
	pieces, known, fixes := r.collect(d.Blocks)
	note := technicalNote(known, fixes)

	if strings.TrimSpace(joinPieces(pieces)) == "" {
		if note == "" {
			return NoContent
		}
		return note
	}
	return fit(pieces, note)
}

// collect walks the blocks in document order. Items under "known issues"
// and "bug fixes" headings are counted instead of rendered.
func (r *Renderer) collect(blocks []notifier.ContentBlock) ([]piece, int, int) {
	var pieces []piece
	var known, fixes int
	current := sectionNone

	for _, block := range blocks {
		switch block.Kind {
		case notifier.BlockImage:
			for _, img := range block.Images {
				if u := bestImageURL(img); u != "" {
					pieces = append(pieces, piece{kind: pieceImage, text: "[Image](" + u + ")"})
				}
			}
		case notifier.BlockText:
			ordered := 0
			for _, p := range block.Paragraphs {
				text := r.clean(p.Text)

				if p.Style.IsHeading() {
					current = classify(text)
					if current == sectionNone && text != "" {
						pieces = append(pieces, piece{text: heading(p.Style, text)})
					}
					continue
				}

				if current != sectionNone {
					if p.Style.IsListItem() && text != "" {
						if current == sectionKnownIssues {
							known++
						} else {
							fixes++
						}
					}
					continue
				}

				if text == "" {
					continue
				}
				indent := strings.Repeat("  ", max(p.Depth, 0))
				switch p.Style {
				case notifier.StyleOrderedItem:
					ordered++
					text = fmt.Sprintf("%s%d. %s", indent, ordered, text)
				case notifier.StyleUnorderedItem:
					text = indent + "• " + text
				case notifier.StyleBlockquote:
					text = "> " + text
				}
				pieces = append(pieces, piece{text: text})
			}
		}
	}
	return pieces, known, fixes
}

func classify(headingText string) section {
	lower := strings.ToLower(headingText)
	switch {
	case strings.Contains(lower, "known issues"):
		return sectionKnownIssues
	case strings.Contains(lower, "bug fixes"):
		return sectionBugFixes
	}
	return sectionNone
}

func heading(style notifier.ParagraphStyle, text string) string {
	switch style {
	case notifier.StyleHeaderOne:
		return "__**" + text + "**__"
	case notifier.StyleHeaderTwo:
		return "**" + text + "**"
	default:
		return "__" + text + "__"
	}
}

func technicalNote(known, fixes int) string {
	var parts []string
	if known > 0 {
		parts = append(parts, fmt.Sprintf("Known Issues: %d", known))
	}
	if fixes > 0 {
		parts = append(parts, fmt.Sprintf("Bug Fixes: %d", fixes))
	}
	if len(parts) == 0 {
		return ""
	}
	return "**Technical**\n" + strings.Join(parts, " | ") + "\nFull lists are in the post."
}

func joinPieces(pieces []piece) string {
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.text
	}
	return strings.Join(texts, "\n")
}

func assemble(body, note string) string {
	switch {
	case note == "":
		return body
	case body == "":
		return note
	}
	return body + "\n\n" + note
}

// fit applies the budget: image lines are dropped oldest first, then the
// text is cut at the last sentence boundary that fits and the notice added.
func fit(pieces []piece, note string) string {
	if out := assemble(joinPieces(pieces), note); runeLen(out) <= MaxDescription {
		return out
	}

	for i := 0; i < len(pieces); {
		if pieces[i].kind != pieceImage {
			i++
			continue
		}
		pieces = append(pieces[:i:i], pieces[i+1:]...)
		if out := assemble(joinPieces(pieces), note); runeLen(out) <= MaxDescription {
			return out
		}
	}

	budget := MaxDescription - runeLen(TruncationNotice)
	if note != "" {
		budget -= runeLen(note) + 2
	}

	var kept []string
	used := 0
	for _, p := range pieces {
		sep := 0
		if len(kept) > 0 {
			sep = 1
		}
		remaining := budget - used - sep
		if remaining <= 0 {
			break
		}
		if n := runeLen(p.text); n <= remaining {
			kept = append(kept, p.text)
			used += sep + n
			continue
		}
		if cut := cutAtSentence(p.text, remaining); cut != "" {
			kept = append(kept, cut)
		}
		break
	}
	return assemble(strings.Join(kept, "\n"), note) + TruncationNotice
}

// cutAtSentence returns the longest prefix of s, at most limit runes, that
// ends a sentence. It returns "" when no sentence ends within the limit.
func cutAtSentence(s string, limit int) string {
	runes := []rune(s)
	best := 0
	for i := 0; i < len(runes) && i < limit; i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && end < limit && isCloser(runes[end]) {
			end++
		}
		if end == len(runes) || unicode.IsSpace(runes[end]) {
			best = end
		}
	}
	return string(runes[:best])
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

// ImageURL picks the announcement image: the first image node in document
// order, using its largest sized rendition when one exists.
func ImageURL(d *notifier.ThreadDetail) string {
	for _, block := range d.Blocks {
		if block.Kind != notifier.BlockImage {
			continue
		}
		for _, img := range block.Images {
			if u := bestImageURL(img); u != "" {
				return u
			}
		}
	}
	return ""
}

func bestImageURL(img notifier.Image) string {
	best := -1
	var bestURL string
	for _, s := range img.Sizes {
		if s.URL == "" {
			continue
		}
		if area := s.Width * s.Height; area > best {
			best, bestURL = area, s.URL
		}
	}
	if bestURL != "" {
		return bestURL
	}
	return img.URL
}

// clean strips markup and surrounding whitespace from a text fragment.
func (r *Renderer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func truncateRunes(s string, limit int) string {
	if runeLen(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
