// Package splitter divides documents into token-bounded segments.
package splitter

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/haasonsaas/ragline/pkg/models"
)

// Splitter turns a document into ordered segments.
type Splitter interface {
	// Split returns the segments of doc. Each carries doc's metadata plus
	// an "index" key holding its 0-based position.
	Split(doc models.Document) ([]models.TextSegment, error)
}

// TokenCounter estimates the token length of text. A single run must use
// one counter throughout.
type TokenCounter interface {
	Count(text string) int
}

// WordPunctCounter counts each run of letters or digits as one token and
// every other non-space rune as one token.
type WordPunctCounter struct{}

// Count implements TokenCounter.
func (WordPunctCounter) Count(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}

// SplitAll splits every document in order.
func SplitAll(s Splitter, docs []models.Document) ([]models.TextSegment, error) {
	var out []models.TextSegment
	for _, doc := range docs {
		segs, err := s.Split(doc)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", doc.ID, err)
		}
		out = append(out, segs...)
	}
	return out, nil
}

func toSegments(texts []string, metadata map[string]string) []models.TextSegment {
	segments := make([]models.TextSegment, len(texts))
	for i, text := range texts {
		meta := models.CloneMetadata(metadata)
		meta[models.MetaIndex] = strconv.Itoa(i)
		segments[i] = models.TextSegment{Text: text, Metadata: meta}
	}
	return segments
}
