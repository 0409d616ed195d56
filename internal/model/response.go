package model

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Format tells the transport how to render Response text.
type Format string

const (
	FormatPlain Format = "plain"
	// FormatRich is the HTML subset accepted by chat platforms
	// (b, i, code, pre, a, br).
	FormatRich Format = "rich"
)

// Common metadata keys set on responses.
const (
	MetaAgent    = "agent"
	MetaTool     = "tool"
	MetaIntent   = "intent"
	MetaError    = "error"
	MetaEmulated = "emulated"
	MetaSession  = "confirmation_session"
)

// Attachment is an opaque file or media reference sent with a response.
type Attachment struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Button is an inline reply option. Data is echoed back by the platform
// when the button is pressed.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Response is one outbound unit. It has no exported fields so that a
// constructed value cannot be modified; accessors return copies.
type Response struct {
	text        string
	format      Format
	attachments []Attachment
	buttons     []Button
	metadata    map[string]string
}

// ResponseOption customizes NewResponse.
type ResponseOption func(*Response)

// WithFormat sets the rendering format.
func WithFormat(f Format) ResponseOption {
	return func(r *Response) { r.format = f }
}

// WithAttachments appends attachments.
func WithAttachments(a ...Attachment) ResponseOption {
	return func(r *Response) { r.attachments = append(r.attachments, a...) }
}

// WithButtons appends inline buttons.
func WithButtons(b ...Button) ResponseOption {
	return func(r *Response) { r.buttons = append(r.buttons, b...) }
}

// WithMeta sets a single diagnostic annotation.
func WithMeta(key, value string) ResponseOption {
	return func(r *Response) {
		if r.metadata == nil {
			r.metadata = make(map[string]string)
		}
		r.metadata[key] = value
	}
}

// NewResponse builds a plain-text response unless a format option says otherwise.
func NewResponse(text string, opts ...ResponseOption) Response {
	r := Response{text: text, format: FormatPlain}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Text returns the response text as authored.
func (r Response) Text() string { return r.text }

// Format returns the rendering format.
func (r Response) Format() Format { return r.format }

// Attachments returns a copy of the attachments.
func (r Response) Attachments() []Attachment { return slices.Clone(r.attachments) }

// Buttons returns a copy of the inline buttons.
func (r Response) Buttons() []Button { return slices.Clone(r.buttons) }

// Metadata returns a copy of the diagnostic annotations.
func (r Response) Metadata() map[string]string { return maps.Clone(r.metadata) }

// Meta returns a single annotation or "".
func (r Response) Meta(key string) string { return r.metadata[key] }

// With returns a copy of r with extra options applied.
func (r Response) With(opts ...ResponseOption) Response {
	out := Response{
		text:        r.text,
		format:      r.format,
		attachments: slices.Clone(r.attachments),
		buttons:     slices.Clone(r.buttons),
		metadata:    maps.Clone(r.metadata),
	}
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

// IsZero reports whether r was never constructed.
func (r Response) IsZero() bool {
	return r.format == "" && r.text == "" && r.metadata == nil
}

// PlainText renders the response for transports without rich formatting.
// Rich text is parsed as HTML: tags are dropped, <br> and block elements
// become newlines, entities are decoded.
func (r Response) PlainText() string {
	if r.format != FormatRich {
		return r.text
	}
	return htmlToText(r.text)
}

func htmlToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				b.WriteByte('\n')
			case "p", "pre", "div", "li", "blockquote":
				newline()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "pre", "div", "li", "blockquote":
				newline()
			}
		}
	}
}

type responseJSON struct {
	Text        string            `json:"text"`
	Format      Format            `json:"format"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Buttons     []Button          `json:"buttons,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(responseJSON{
		Text:        r.text,
		Format:      r.format,
		Attachments: r.attachments,
		Buttons:     r.buttons,
		Metadata:    r.metadata,
	})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Response{
		text:        raw.Text,
		format:      raw.Format,
		attachments: raw.Attachments,
		buttons:     raw.Buttons,
		metadata:    raw.Metadata,
	}
	if r.format == "" {
		r.format = FormatPlain
	}
	return nil
}
