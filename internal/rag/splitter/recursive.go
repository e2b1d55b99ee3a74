package splitter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/haasonsaas/ragline/pkg/models"
)

// level is one rung of the split hierarchy, from paragraphs down to
// characters. joiner reattaches adjacent pieces produced at that level.
type level struct {
	name   string
	split  func(string) []string
	joiner string
}

var paragraphBreak = regexp.MustCompile(`\n[ \t\r]*\n`)

var levels = []level{
	{name: "paragraph", split: splitParagraphs, joiner: "\n\n"},
	{name: "line", split: splitLines, joiner: "\n"},
	{name: "sentence", split: splitSentences, joiner: " "},
	{name: "word", split: strings.Fields, joiner: " "},
	{name: "character", joiner: ""},
}

type piece struct {
	text   string
	joiner string
}

// Recursive splits by paragraph, then line, sentence, word and finally
// character, descending only for pieces that exceed the token budget, and
// greedily packs the pieces back into segments. With overlap, every
// segment after the first starts with the last overlapTokens of the one
// before it.
type Recursive struct {
	maxTokens     int
	overlapTokens int
	counter       TokenCounter
}

var _ Splitter = (*Recursive)(nil)

// NewRecursive creates a recursive splitter. A nil counter selects
// WordPunctCounter.
func NewRecursive(maxTokens, overlapTokens int, counter TokenCounter) (*Recursive, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("maxTokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, fmt.Errorf("overlapTokens must be in [0, %d), got %d", maxTokens, overlapTokens)
	}
	if counter == nil {
		counter = WordPunctCounter{}
	}
	return &Recursive{maxTokens: maxTokens, overlapTokens: overlapTokens, counter: counter}, nil
}

// Split implements Splitter.
func (s *Recursive) Split(doc models.Document) ([]models.TextSegment, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, nil
	}
	texts := s.pack(s.pieces(doc.Content, 0))
	if len(texts) == 0 {
		return nil, errors.New("document produced no segments")
	}
	return toSegments(texts, doc.Metadata), nil
}

// SplitText splits raw text without metadata.
func (s *Recursive) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.pack(s.pieces(text, 0))
}

// pieceBudget is the size every piece is cut to, leaving room for an
// overlap prefix of up to overlapTokens.
func (s *Recursive) pieceBudget() int {
	return s.maxTokens - s.overlapTokens
}

func (s *Recursive) pieces(text string, lvl int) []piece {
	if lvl == len(levels)-1 {
		return s.characterPieces(text)
	}

	budget := s.pieceBudget()
	var out []piece
	for _, part := range levels[lvl].split(text) {
		if s.counter.Count(part) <= budget {
			out = append(out, piece{text: part, joiner: levels[lvl].joiner})
			continue
		}
		sub := s.pieces(part, lvl+1)
		if len(sub) > 0 {
			sub[0].joiner = levels[lvl].joiner
		}
		out = append(out, sub...)
	}
	return out
}

func (s *Recursive) characterPieces(text string) []piece {
	budget := s.pieceBudget()
	var out []piece
	var cur strings.Builder
	for _, r := range text {
		next := cur.String() + string(r)
		if cur.Len() > 0 && s.counter.Count(next) > budget {
			out = append(out, piece{text: cur.String()})
			cur.Reset()
		}
		cur.WriteRune(r)
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, piece{text: cur.String()})
	}
	return out
}

func (s *Recursive) pack(pieces []piece) []string {
	var segments []string
	cur := ""
	for _, p := range pieces {
		if cur == "" {
			cur = p.text
			continue
		}
		candidate := cur + p.joiner + p.text
		if s.counter.Count(candidate) <= s.maxTokens {
			cur = candidate
			continue
		}
		segments = append(segments, cur)
		cur = s.withOverlap(cur, p)
	}
	if strings.TrimSpace(cur) != "" {
		segments = append(segments, cur)
	}
	return segments
}

// withOverlap prefixes p with the tail of prev. Pieces are cut to leave
// room for overlapTokens, so the full tail fits unless the counter is not
// additive over concatenation; the tail then shrinks until it fits.
func (s *Recursive) withOverlap(prev string, p piece) string {
	for limit := s.overlapTokens; limit > 0; limit-- {
		tail := s.tail(prev, limit)
		if tail == "" {
			continue
		}
		candidate := tail + p.joiner + p.text
		if s.counter.Count(candidate) <= s.maxTokens {
			return candidate
		}
	}
	return p.text
}

// tail returns the longest suffix of text counting at most limit tokens.
// It starts at a word boundary when one fits and otherwise cuts inside the
// last word.
func (s *Recursive) tail(text string, limit int) string {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	best := ""
	starts := wordStarts(text)
	for i := len(starts) - 1; i >= 0; i-- {
		suffix := text[starts[i]:]
		if s.counter.Count(suffix) > limit {
			break
		}
		best = suffix
	}
	if best != "" {
		return best
	}

	runes := []rune(text)
	for i := len(runes) - 1; i >= 0; i-- {
		suffix := string(runes[i:])
		if s.counter.Count(suffix) > limit {
			break
		}
		best = suffix
	}
	return best
}

// wordStarts returns the byte offsets at which whitespace-separated words
// begin.
func wordStarts(text string) []int {
	var starts []int
	prevSpace := true
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && prevSpace {
			starts = append(starts, i)
		}
		prevSpace = space
	}
	return starts
}

func splitParagraphs(text string) []string {
	return nonEmpty(paragraphBreak.Split(text, -1))
}

func splitLines(text string) []string {
	return nonEmpty(strings.Split(text, "\n"))
}

// splitSentences breaks after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
		}
	}
	out = append(out, string(runes[start:]))
	return nonEmpty(out)
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
