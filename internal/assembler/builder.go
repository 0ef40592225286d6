// Package assembler derives per-turn prompt bundles from a conversation
// objective and the caller-owned conversation state.
//
// This file implements the structured prompt builder used for fallback
// prompt construction, so tests can assert on sections instead of substring
// matching against one large template literal.
package assembler

import "strings"

// Section is one named block of a composed prompt.
type Section struct {
	Title string
	Body  string
}

// Builder composes a system prompt from named sections in insertion order.
type Builder struct {
	sections []Section
}

// NewBuilder creates an empty prompt builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a section. Sections with an empty body are skipped so optional
// blocks can be added unconditionally.
func (b *Builder) Add(title, body string) *Builder {
	if strings.TrimSpace(body) == "" {
		return b
	}
	b.sections = append(b.sections, Section{Title: title, Body: body})
	return b
}

// Sections returns the composed sections in order.
func (b *Builder) Sections() []Section {
	return b.sections
}

// String renders the sections as prompt text. Titled sections render as
// "Title:\nBody"; untitled sections render the body alone.
func (b *Builder) String() string {
	parts := make([]string, 0, len(b.sections))
	for _, s := range b.sections {
		if s.Title == "" {
			parts = append(parts, s.Body)
			continue
		}
		parts = append(parts, s.Title+":\n"+s.Body)
	}
	return strings.Join(parts, "\n\n")
}
