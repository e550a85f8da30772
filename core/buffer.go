package core

import "pkt.systems/gitpilot/schema"

// editBuffer holds the in-memory text of the open file.
// base is the content as last fetched or committed; text is what the user sees.
type editBuffer struct {
	base string
	text string
}

func newEditBuffer(content string) editBuffer {
	return editBuffer{base: content, text: content}
}

// Set replaces the visible text.
func (b *editBuffer) Set(text string) {
	b.text = text
}

// Commit records text as the new remote baseline.
func (b *editBuffer) Commit() {
	b.base = b.text
}

// Text returns the visible text.
func (b *editBuffer) Text() string {
	return b.text
}

// Base returns the last fetched or committed content.
func (b *editBuffer) Base() string {
	return b.base
}

// Dirty reports unsaved changes.
func (b *editBuffer) Dirty() bool {
	return b.text != b.base
}

// openFile is the selected file with its revision at open time.
type openFile struct {
	repo     schema.RepoName
	path     schema.FilePath
	revision schema.Revision
	buffer   editBuffer
}
