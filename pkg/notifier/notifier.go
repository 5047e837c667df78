// Package notifier contains the core domain types for the Spectrum announcement service.
package notifier

import "time"

// Subscriber is one community watching one Spectrum forum.
type Subscriber struct {
	UpdatedAt     time.Time `yaml:"updated_at" json:"updated_at"`
	ID            string    `yaml:"id" json:"id"`                         // Community (guild) ID
	ForumID       string    `yaml:"forum_id" json:"forum_id"`             // Spectrum channel to watch
	DestinationID string    `yaml:"destination_id" json:"destination_id"` // Channel that receives announcements
	UpdatedBy     string    `yaml:"updated_by" json:"updated_by"`
}

// Author is the best-effort identity of a thread's creator.
type Author struct {
	Name      string
	Nickname  string
	AvatarURL string
}

// ThreadSummary is one entry of a forum's thread listing.
type ThreadSummary struct {
	CreatedAt time.Time
	ID        *ThreadID // nil when no id rule matched
	Slug      string
	Subject   string
}

// ParagraphStyle is the block type of a rich-text paragraph.
type ParagraphStyle string

// Paragraph styles emitted by the Spectrum editor.
const (
	StyleUnstyled      ParagraphStyle = "unstyled"
	StyleHeaderOne     ParagraphStyle = "header-one"
	StyleHeaderTwo     ParagraphStyle = "header-two"
	StyleHeaderThree   ParagraphStyle = "header-three"
	StyleHeaderFour    ParagraphStyle = "header-four"
	StyleHeaderFive    ParagraphStyle = "header-five"
	StyleHeaderSix     ParagraphStyle = "header-six"
	StyleUnorderedItem ParagraphStyle = "unordered-list-item"
	StyleOrderedItem   ParagraphStyle = "ordered-list-item"
	StyleBlockquote    ParagraphStyle = "blockquote"
)

// IsHeading reports whether the style is one of the header levels.
func (s ParagraphStyle) IsHeading() bool {
	switch s {
	case StyleHeaderOne, StyleHeaderTwo, StyleHeaderThree, StyleHeaderFour, StyleHeaderFive, StyleHeaderSix:
		return true
	}
	return false
}

// IsListItem reports whether the style is an ordered or unordered list item.
func (s ParagraphStyle) IsListItem() bool {
	return s == StyleUnorderedItem || s == StyleOrderedItem
}

// Paragraph is one paragraph-like node of a text block.
type Paragraph struct {
	Text  string
	Style ParagraphStyle
	Depth int
}

// ImageSize is one sized rendition of an image.
type ImageSize struct {
	URL    string
	Width  int
	Height int
}

// Image is one image node.
type Image struct {
	URL   string
	Sizes []ImageSize
}

// BlockKind distinguishes text blocks from image blocks.
type BlockKind string

// Content block kinds.
const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// ContentBlock is one top-level block of a thread's rich content.
type ContentBlock struct {
	Kind       BlockKind
	Paragraphs []Paragraph
	Images     []Image
}

// ThreadDetail is the decoded detail document of a single thread.
type ThreadDetail struct {
	CreatedAt time.Time
	ID        *ThreadID
	Author    Author
	ForumID   string
	Slug      string
	Subject   string
	Blocks    []ContentBlock
}

// RenderedThread is the announcement built from a ThreadDetail. It is never persisted.
type RenderedThread struct {
	Timestamp       time.Time
	Title           string
	URL             string
	AuthorName      string
	AuthorAvatarURL string
	Description     string
	ImageURL        string
}
