package spectrum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"spectrum-notifier/pkg/notifier"
)

// Response is the decoded form of an API reply: a ListResponse, a
// DetailResponse or an ErrorResponse.
type Response interface {
	isResponse()
}

// ListResponse is a successful thread listing.
type ListResponse struct {
	Threads []notifier.ThreadSummary
}

// DetailResponse is a successful thread detail document.
type DetailResponse struct {
	Detail *notifier.ThreadDetail
}

// ErrorResponse is every reply that must not be trusted: a bad status, a
// false success flag, or a body that does not parse.
type ErrorResponse struct {
	Code    string
	Message string
	Status  int
}

func (ListResponse) isResponse()   {}
func (DetailResponse) isResponse() {}
func (ErrorResponse) isResponse()  {}

func (e ErrorResponse) String() string {
	return fmt.Sprintf("status=%d code=%q message=%q", e.Status, e.Code, e.Message)
}

type envelope struct {
	Success json.RawMessage `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Msg     string          `json:"msg"`
}

// idRule extracts a thread id from one field path of a generic document.
type idRule struct {
	name string
	path []string
}

// threadIDRules are tried in order; the first present field wins.
var threadIDRules = []idRule{
	{name: "id", path: []string{"id"}},
	{name: "thread_id", path: []string{"thread_id"}},
	{name: "threadId", path: []string{"threadId"}},
	{name: "thread.id", path: []string{"thread", "id"}},
}

func extractThreadID(doc map[string]any) *notifier.ThreadID {
	for _, rule := range threadIDRules {
		if id := notifier.ParseThreadID(lookup(doc, rule.path)); id != nil {
			return id
		}
	}
	return nil
}

func lookup(doc map[string]any, path []string) any {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func decodeEnvelope(status int, body []byte) (*envelope, *ErrorResponse) {
	if status < 200 || status >= 300 {
		return nil, &ErrorResponse{Status: status, Message: http.StatusText(status)}
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ErrorResponse{Status: status, Message: "unparsable body: " + err.Error()}
	}
	if !truthy(env.Success) {
		return nil, &ErrorResponse{Status: status, Code: env.Code, Message: env.Msg}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &ErrorResponse{Status: status, Code: env.Code, Message: "missing data"}
	}
	return &env, nil
}

// truthy accepts the flag forms Spectrum has been seen to use: 1 and true.
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "1", "true", `"1"`, `"true"`:
		return true
	}
	return false
}

func decodeGeneric(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// DecodeList turns a thread-listing reply into a Response.
func DecodeList(status int, body []byte) Response {
	env, errResp := decodeEnvelope(status, body)
	if errResp != nil {
		return *errResp
	}
	var data struct {
		Threads []map[string]any `json:"threads"`
	}
	if err := decodeGeneric(env.Data, &data); err != nil {
		return ErrorResponse{Status: status, Code: env.Code, Message: "unparsable threads: " + err.Error()}
	}

	threads := make([]notifier.ThreadSummary, 0, len(data.Threads))
	for _, raw := range data.Threads {
		threads = append(threads, notifier.ThreadSummary{
			ID:        extractThreadID(raw),
			Slug:      stringField(raw, "slug"),
			Subject:   stringField(raw, "subject"),
			CreatedAt: unixField(raw, "time_created"),
		})
	}
	return ListResponse{Threads: threads}
}

type wireDetail struct {
	Member struct {
		DisplayName string `json:"displayname"`
		Nickname    string `json:"nickname"`
		Avatar      string `json:"avatar"`
	} `json:"member"`
	Slug          string      `json:"slug"`
	Subject       string      `json:"subject"`
	ContentBlocks []wireBlock `json:"content_blocks"`
}

type wireBlock struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireText struct {
	Blocks []struct {
		Text  string `json:"text"`
		Type  string `json:"type"`
		Depth int    `json:"depth"`
	} `json:"blocks"`
}

type wireImage struct {
	Data  *wireImage          `json:"data"`
	Sizes map[string]wireSize `json:"sizes"`
	URL   string              `json:"url"`
}

type wireSize struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DecodeDetail turns a thread-detail reply into a Response.
func DecodeDetail(status int, body []byte) Response {
	env, errResp := decodeEnvelope(status, body)
	if errResp != nil {
		return *errResp
	}

	var generic map[string]any
	if err := decodeGeneric(env.Data, &generic); err != nil {
		return ErrorResponse{Status: status, Code: env.Code, Message: "unparsable thread: " + err.Error()}
	}
	var wire wireDetail
	if err := json.Unmarshal(env.Data, &wire); err != nil {
		return ErrorResponse{Status: status, Code: env.Code, Message: "unparsable thread: " + err.Error()}
	}

	detail := &notifier.ThreadDetail{
		ID:        extractThreadID(generic),
		Slug:      wire.Slug,
		Subject:   wire.Subject,
		CreatedAt: unixField(generic, "time_created"),
		Author: notifier.Author{
			Name:      wire.Member.DisplayName,
			Nickname:  wire.Member.Nickname,
			AvatarURL: wire.Member.Avatar,
		},
	}
	for _, b := range wire.ContentBlocks {
		if block, ok := decodeBlock(b); ok {
			detail.Blocks = append(detail.Blocks, block)
		}
	}
	return DetailResponse{Detail: detail}
}

// decodeBlock converts one content block; unknown or malformed blocks are dropped.
func decodeBlock(b wireBlock) (notifier.ContentBlock, bool) {
	switch notifier.BlockKind(b.Type) {
	case notifier.BlockText:
		var text wireText
		if err := json.Unmarshal(b.Data, &text); err != nil {
			return notifier.ContentBlock{}, false
		}
		block := notifier.ContentBlock{Kind: notifier.BlockText}
		for _, p := range text.Blocks {
			style := notifier.ParagraphStyle(p.Type)
			if style == "" {
				style = notifier.StyleUnstyled
			}
			block.Paragraphs = append(block.Paragraphs, notifier.Paragraph{Text: p.Text, Style: style, Depth: p.Depth})
		}
		return block, true
	case notifier.BlockImage:
		images := decodeImages(b.Data)
		if len(images) == 0 {
			return notifier.ContentBlock{}, false
		}
		return notifier.ContentBlock{Kind: notifier.BlockImage, Images: images}, true
	}
	return notifier.ContentBlock{}, false
}

// decodeImages accepts either a list of image items or a single item, each
// optionally wrapped in a "data" object.
func decodeImages(raw json.RawMessage) []notifier.Image {
	var items []wireImage
	if err := json.Unmarshal(raw, &items); err != nil {
		var single wireImage
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		items = []wireImage{single}
	}

	var images []notifier.Image
	for _, item := range items {
		if item.Data != nil && item.URL == "" && len(item.Sizes) == 0 {
			item = *item.Data
		}
		img := notifier.Image{URL: item.URL}
		names := make([]string, 0, len(item.Sizes))
		for name := range item.Sizes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := item.Sizes[name]
			if s.URL != "" {
				img.Sizes = append(img.Sizes, notifier.ImageSize{URL: s.URL, Width: s.Width, Height: s.Height})
			}
		}
		if img.URL != "" || len(img.Sizes) > 0 {
			images = append(images, img)
		}
	}
	return images
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func unixField(doc map[string]any, key string) time.Time {
	n, ok := doc[key].(json.Number)
	if !ok {
		return time.Time{}
	}
	if secs, err := n.Int64(); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return time.Unix(int64(f), 0).UTC()
	}
	return time.Time{}
}
