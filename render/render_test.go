package render

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"spectrum-notifier/pkg/notifier"
)

func testRenderer() *Renderer {
	return New(Config{BaseURL: "https://robertsspaceindustries.com/", Community: "SC"})
}

func textBlock(paragraphs ...notifier.Paragraph) notifier.ContentBlock {
	return notifier.ContentBlock{Kind: notifier.BlockText, Paragraphs: paragraphs}
}

func para(style notifier.ParagraphStyle, text string) notifier.Paragraph {
	return notifier.Paragraph{Style: style, Text: text}
}

func TestDescriptionFormatting(t *testing.T) {
	d := &notifier.ThreadDetail{Blocks: []notifier.ContentBlock{
		textBlock(
			para(notifier.StyleHeaderOne, "Patch 4.0"),
			para(notifier.StyleUnstyled, "Intro text."),
			para(notifier.StyleHeaderTwo, "Highlights"),
			para(notifier.StyleUnorderedItem, "Bullet"),
			notifier.Paragraph{Style: notifier.StyleUnorderedItem, Text: "Nested", Depth: 1},
			para(notifier.StyleOrderedItem, "First"),
			para(notifier.StyleOrderedItem, "Second"),
			para(notifier.StyleHeaderThree, "Minor"),
			para(notifier.StyleBlockquote, "Quoted"),
		),
		textBlock(
			para(notifier.StyleOrderedItem, "Restarted"),
		),
	}}

	got := testRenderer().Description(d)
	want := strings.Join([]string{
		"__**Patch 4.0**__",
		"Intro text.",
		"**Highlights**",
		"• Bullet",
		"  • Nested",
		"1. First",
		"2. Second",
		"__Minor__",
		"> Quoted",
		"1. Restarted",
	}, "\n")
	if got != want {
		t.Errorf("Description() =\n%s\nwant\n%s", got, want)
	}
}

func TestDescriptionSummarizesKnownIssuesAndBugFixes(t *testing.T) {
	d := &notifier.ThreadDetail{Blocks: []notifier.ContentBlock{
		textBlock(
			para(notifier.StyleHeaderTwo, "Features & Gameplay"),
			para(notifier.StyleUnorderedItem, "Added new cargo missions"),
			para(notifier.StyleHeaderTwo, "Known Issues"),
			para(notifier.StyleUnorderedItem, "Elevators may strand players"),
			para(notifier.StyleUnorderedItem, "Quantum travel desync"),
		),
		textBlock(
			para(notifier.StyleHeaderTwo, "BUG FIXES"),
			para(notifier.StyleUnorderedItem, "Fixed hangar doors"),
		),
	}}

	got := testRenderer().Description(d)

	for _, hidden := range []string{"Elevators may strand players", "Quantum travel desync", "Fixed hangar doors"} {
		if strings.Contains(got, hidden) {
			t.Errorf("summarized item %q should not be rendered:\n%s", hidden, got)
		}
	}
	for _, want := range []string{"**Features & Gameplay**", "• Added new cargo missions", "**Technical**", "Known Issues: 2 | Bug Fixes: 1"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "**Technical**") < strings.Index(got, "Added new cargo missions") {
		t.Errorf("technical note should trail the body:\n%s", got)
	}
}

func TestDescriptionTruncatesAtSentenceBoundary(t *testing.T) {
	sentences := make([]string, 300)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("This is sentence number %d of the update.", i+1)
	}
	long := strings.Join(sentences, " ")
	d := &notifier.ThreadDetail{Blocks: []notifier.ContentBlock{textBlock(para(notifier.StyleUnstyled, long))}}

	got := testRenderer().Description(d)

	if n := utf8.RuneCountInString(got); n > MaxDescription {
		t.Errorf("description is %d characters, budget is %d", n, MaxDescription)
	}
	if !strings.HasSuffix(got, TruncationNotice) {
		t.Fatalf("missing truncation notice: %q", got[len(got)-80:])
	}
	body := strings.TrimSuffix(got, TruncationNotice)
	if !strings.HasSuffix(body, "of the update.") {
		t.Errorf("body does not end at a sentence boundary: %q", body[len(body)-60:])
	}
	if !strings.HasPrefix(long, body) {
		t.Error("truncated body is not a prefix of the original text")
	}
}

func TestDescriptionDropsImagesBeforeText(t *testing.T) {
	text := strings.Repeat("Word ", 700) + "end." // about 3500 characters
	var blocks []notifier.ContentBlock
	for i := 0; i < 20; i++ {
		blocks = append(blocks, notifier.ContentBlock{Kind: notifier.BlockImage, Images: []notifier.Image{
			{URL: fmt.Sprintf("https://cdn.test/image-%02d-with-a-reasonably-long-name.jpg", i)},
		}})
	}
	blocks = append(blocks, textBlock(para(notifier.StyleUnstyled, text)))

	got := testRenderer().Description(&notifier.ThreadDetail{Blocks: blocks})

	if strings.HasSuffix(got, TruncationNotice) {
		t.Error("dropping images should have been enough, text truncated instead")
	}
	if !strings.HasSuffix(got, "end.") {
		t.Error("paragraph text should survive intact")
	}
	if strings.Contains(got, "image-00-") {
		t.Error("oldest image should be dropped first")
	}
	if !strings.Contains(got, "image-19-") {
		t.Error("newest image should be kept when there is room")
	}
	if n := utf8.RuneCountInString(got); n > MaxDescription {
		t.Errorf("description is %d characters, budget is %d", n, MaxDescription)
	}
}

func TestDescriptionEmpty(t *testing.T) {
	tests := []struct {
		name   string
		blocks []notifier.ContentBlock
	}{
		{name: "no blocks"},
		{name: "whitespace only", blocks: []notifier.ContentBlock{textBlock(para(notifier.StyleUnstyled, "  \n\t "))}},
		{name: "markup only", blocks: []notifier.ContentBlock{textBlock(para(notifier.StyleUnstyled, "<br/>"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testRenderer().Description(&notifier.ThreadDetail{Blocks: tt.blocks}); got != NoContent {
				t.Errorf("Description() = %q, want %q", got, NoContent)
			}
		})
	}
}

func TestDescriptionStripsMarkup(t *testing.T) {
	d := &notifier.ThreadDetail{Blocks: []notifier.ContentBlock{
		textBlock(para(notifier.StyleUnstyled, "Ships <b>&amp;</b> stations")),
	}}
	if got := testRenderer().Description(d); got != "Ships & stations" {
		t.Errorf("Description() = %q", got)
	}
}

func TestImageURL(t *testing.T) {
	tests := []struct {
		name   string
		blocks []notifier.ContentBlock
		want   string
	}{
		{name: "no images", blocks: []notifier.ContentBlock{textBlock(para(notifier.StyleUnstyled, "x"))}},
		{
			name: "largest rendition wins",
			blocks: []notifier.ContentBlock{{Kind: notifier.BlockImage, Images: []notifier.Image{{
				URL: "https://cdn.test/direct.jpg",
				Sizes: []notifier.ImageSize{
					{URL: "https://cdn.test/small.jpg", Width: 100, Height: 100},
					{URL: "https://cdn.test/large.jpg", Width: 1920, Height: 1080},
					{URL: "https://cdn.test/medium.jpg", Width: 800, Height: 600},
				},
			}}}},
			want: "https://cdn.test/large.jpg",
		},
		{
			name: "direct url without sizes",
			blocks: []notifier.ContentBlock{{Kind: notifier.BlockImage, Images: []notifier.Image{
				{URL: "https://cdn.test/direct.jpg"},
			}}},
			want: "https://cdn.test/direct.jpg",
		},
		{
			name: "first image in document order",
			blocks: []notifier.ContentBlock{
				textBlock(para(notifier.StyleUnstyled, "x")),
				{Kind: notifier.BlockImage, Images: []notifier.Image{{}, {URL: "https://cdn.test/first.jpg"}}},
				{Kind: notifier.BlockImage, Images: []notifier.Image{{URL: "https://cdn.test/second.jpg"}}},
			},
			want: "https://cdn.test/first.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ImageURL(&notifier.ThreadDetail{Blocks: tt.blocks}); got != tt.want {
				t.Errorf("ImageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	created := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	d := &notifier.ThreadDetail{
		ID:        notifier.ParseThreadID("555"),
		ForumID:   "190048",
		Slug:      "star-citizen-alpha-4-0",
		Subject:   "Star Citizen Alpha 4.0",
		CreatedAt: created,
		Author:    notifier.Author{Nickname: "Disco", AvatarURL: "https://cdn.test/avatar.png"},
		Blocks:    []notifier.ContentBlock{textBlock(para(notifier.StyleUnstyled, "Hello."))},
	}

	got := testRenderer().Render(d)

	if got.Title != "Star Citizen Alpha 4.0" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.URL != "https://robertsspaceindustries.com/spectrum/community/SC/forum/190048/thread/star-citizen-alpha-4-0" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.AuthorName != "Disco" || got.AuthorAvatarURL != "https://cdn.test/avatar.png" {
		t.Errorf("author = %q / %q", got.AuthorName, got.AuthorAvatarURL)
	}
	if got.Description != "Hello." || !got.Timestamp.Equal(created) {
		t.Errorf("description/timestamp = %q / %v", got.Description, got.Timestamp)
	}

	d.Subject, d.Slug, d.Author = "", "", notifier.Author{}
	got = testRenderer().Render(d)
	if got.Title != defaultTitle || got.AuthorName != unknownAuthor {
		t.Errorf("fallbacks = %q / %q", got.Title, got.AuthorName)
	}
	if !strings.HasSuffix(got.URL, "/thread/555") {
		t.Errorf("URL should fall back to the id: %q", got.URL)
	}
}

func TestCutAtSentence(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"One. Two. Three.", 100, "One. Two. Three."},
		{"One. Two. Three.", 12, "One. Two."},
		{"One. Two. Three.", 3, ""},
		{`He said "stop." Then left.`, 18, `He said "stop."`},
		{"Version 4.0 is out. Enjoy!", 15, ""},
		{"No terminator at all", 50, ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.in, tt.limit), func(t *testing.T) {
			if got := cutAtSentence(tt.in, tt.limit); got != tt.want {
				t.Errorf("cutAtSentence(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}
