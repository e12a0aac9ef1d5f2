// Package gemini is a small client for the Gemini generative-language REST API.
//
// A request is described by a Contents value: an ordered list of turns
// (Content), each made of text fragments (Part) and an optional role. The
// Client serialises it, POSTs it to one of the generateContent, countTokens or
// streamGenerateContent methods and extracts plain text or a token count from
// the JSON reply.
//
// The client never returns errors for upstream problems. Every failure
// collapses to a documented sentinel: "" for text, -1 for token counts and an
// empty sequence for streams. Diagnostics go to the configured slog.Logger and
// to any Recorder passed via WithRecorder.
package gemini

import (
	"encoding/json"

	"google.golang.org/genai"
)

// Role identifies the author of a turn. The zero value means "no role" and
// omits the field from the request.
type Role string

const (
	RoleUser  Role = Role(genai.RoleUser)
	RoleModel Role = Role(genai.RoleModel)
)

// Part is a single text fragment of a turn.
type Part struct {
	text string
}

// NewPart returns a Part holding text.
func NewPart(text string) Part { return Part{text: text} }

// Text returns the fragment text.
func (p Part) Text() string { return p.text }

type partJSON struct {
	Text string `json:"text"`
}

func (p Part) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{Text: p.text})
}

func (p *Part) UnmarshalJSON(data []byte) error {
	var w partJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.text = w.Text
	return nil
}

// Content is one conversation turn: ordered parts plus an optional role.
type Content struct {
	parts []Part
	role  Role
}

// NewContent builds a turn from role and parts. The parts slice is copied.
func NewContent(role Role, parts ...Part) Content {
	return Content{parts: clonePartSlice(parts), role: role}
}

// TextContent is shorthand for a single-part turn.
func TextContent(text string, role Role) Content {
	return Content{parts: []Part{NewPart(text)}, role: role}
}

// Parts returns a copy of the turn's parts.
func (c Content) Parts() []Part { return clonePartSlice(c.parts) }

// Role returns the turn role, or "" when none was set.
func (c Content) Role() Role { return c.role }

type contentJSON struct {
	Parts []Part `json:"parts"`
	Role  Role   `json:"role,omitempty"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	parts := c.parts
	if parts == nil {
		parts = []Part{}
	}
	return json.Marshal(contentJSON{Parts: parts, Role: c.role})
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var w contentJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.parts = w.Parts
	c.role = w.Role
	return nil
}

// Contents is a complete request payload. Turn order is conversation order.
// An empty Contents is valid locally; the API rejects it.
type Contents struct {
	contents []Content
}

// NewContents returns a payload holding turns in the given order.
func NewContents(turns ...Content) Contents {
	return Contents{contents: cloneContentSlice(turns)}
}

// Turns returns a copy of the turns.
func (c Contents) Turns() []Content { return cloneContentSlice(c.contents) }

// Len returns the number of turns.
func (c Contents) Len() int { return len(c.contents) }

type contentsJSON struct {
	Contents []Content `json:"contents"`
}

func (c Contents) MarshalJSON() ([]byte, error) {
	turns := c.contents
	if turns == nil {
		turns = []Content{}
	}
	return json.Marshal(contentsJSON{Contents: turns})
}

func (c *Contents) UnmarshalJSON(data []byte) error {
	var w contentsJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.contents = w.Contents
	return nil
}

// GenAI converts the payload to the official SDK's content type.
func (c Contents) GenAI() []*genai.Content {
	out := make([]*genai.Content, 0, len(c.contents))
	for _, turn := range c.contents {
		gc := &genai.Content{Role: string(turn.role)}
		for _, p := range turn.parts {
			gc.Parts = append(gc.Parts, genai.NewPartFromText(p.text))
		}
		out = append(out, gc)
	}
	return out
}

// ContentsFromGenAI converts SDK contents. Only text parts are kept; nil turns
// and nil parts are skipped.
func ContentsFromGenAI(in []*genai.Content) Contents {
	turns := make([]Content, 0, len(in))
	for _, gc := range in {
		if gc == nil {
			continue
		}
		turn := Content{role: Role(gc.Role), parts: []Part{}}
		for _, p := range gc.Parts {
			if p == nil || p.Text == "" {
				continue
			}
			turn.parts = append(turn.parts, NewPart(p.Text))
		}
		turns = append(turns, turn)
	}
	return Contents{contents: turns}
}

// ContentBuilder accumulates parts for a single turn. The role starts as
// RoleUser; pass "" to Role to omit it.
type ContentBuilder struct {
	parts []Part
	role  Role
}

func NewContentBuilder() *ContentBuilder {
	return &ContentBuilder{role: RoleUser}
}

func (b *ContentBuilder) Part(p Part) *ContentBuilder {
	b.parts = append(b.parts, p)
	return b
}

func (b *ContentBuilder) Text(text string) *ContentBuilder {
	return b.Part(NewPart(text))
}

func (b *ContentBuilder) Role(r Role) *ContentBuilder {
	b.role = r
	return b
}

// Build returns an immutable Content. The builder may keep being used.
func (b *ContentBuilder) Build() Content {
	return NewContent(b.role, b.parts...)
}

// ContentsBuilder accumulates turns for a request payload.
type ContentsBuilder struct {
	turns []Content
}

func NewContentsBuilder() *ContentsBuilder {
	return &ContentsBuilder{}
}

func (b *ContentsBuilder) Add(c Content) *ContentsBuilder {
	b.turns = append(b.turns, c)
	return b
}

func (b *ContentsBuilder) AddText(text string, role Role) *ContentsBuilder {
	return b.Add(TextContent(text, role))
}

// Build returns an immutable Contents. The builder may keep being used.
func (b *ContentsBuilder) Build() Contents {
	return NewContents(b.turns...)
}

func clonePartSlice(in []Part) []Part {
	out := make([]Part, len(in))
	copy(out, in)
	return out
}

func cloneContentSlice(in []Content) []Content {
	out := make([]Content, len(in))
	copy(out, in)
	return out
}
