// Package models defines the core data types for ragline.
package models

import "maps"

// Well-known metadata keys.
const (
	MetaFileName      = "file_name"
	MetaFilePath      = "file_path"
	MetaDirectoryPath = "absolute_directory_path"
	MetaIndex         = "index"
)

// Document is a loaded source text. Documents are immutable once produced
// by a loader; splitting derives segments from them.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`

	// Content is the decoded text content.
	Content string `json:"content"`

	// Metadata holds string attributes such as file_name and file_path.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TextSegment is a portion of a Document small enough to embed.
type TextSegment struct {
	// Text is the segment content.
	Text string `json:"text"`

	// Metadata carries the parent metadata plus the segment index.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewTextSegment builds a segment with a private copy of metadata.
func NewTextSegment(text string, metadata map[string]string) TextSegment {
	return TextSegment{Text: text, Metadata: CloneMetadata(metadata)}
}

// StoreEntry is a stored embedding together with its segment.
type StoreEntry struct {
	ID        string      `json:"id"`
	Embedding []float32   `json:"embedding"`
	Segment   TextSegment `json:"segment"`
}

// Match is a search hit. Score lies in [0, 1] where 1 means identical
// direction.
type Match struct {
	Entry StoreEntry `json:"entry"`
	Score float64    `json:"score"`
}

// CloneMetadata returns a copy of m. A nil map yields an empty map.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	maps.Copy(out, m)
	return out
}

// MatchesFilter reports whether metadata contains every key/value of filter.
func MatchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		got, ok := metadata[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}
