package splitter

import (
	"strconv"
	"strings"
	"testing"

	"github.com/haasonsaas/ragline/pkg/models"
)

func TestWordPunctCounter_Count(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"whitespace", "  \n\t", 0},
		{"words", "Nelly is slow", 3},
		{"punctuation", "Hello, world!", 4},
		{"digits", "version 42", 2},
		{"unicode", "café au lait", 3},
		{"contraction", "don't", 3},
	}

	counter := WordPunctCounter{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counter.Count(tt.text); got != tt.want {
				t.Errorf("Count(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestNewRecursiveValidates(t *testing.T) {
	tests := []struct {
		name      string
		max, over int
		wantErr   bool
	}{
		{"valid", 300, 0, false},
		{"with overlap", 10, 3, false},
		{"zero max", 0, 0, true},
		{"negative overlap", 10, -1, true},
		{"overlap equals max", 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecursive(tt.max, tt.over, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRecursive(%d, %d) error = %v, wantErr %v", tt.max, tt.over, err, tt.wantErr)
			}
		})
	}
}

func TestSplitKeepsShortDocumentWhole(t *testing.T) {
	s, _ := NewRecursive(300, 0, nil)
	doc := models.Document{
		ID:       "d1",
		Content:  "Nelly is a slow dog.\n\nShe likes naps.",
		Metadata: map[string]string{models.MetaFileName: "nelly.txt"},
	}

	segs, err := s.Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Text != doc.Content {
		t.Errorf("Text = %q, want %q", segs[0].Text, doc.Content)
	}
	if segs[0].Metadata[models.MetaIndex] != "0" || segs[0].Metadata[models.MetaFileName] != "nelly.txt" {
		t.Errorf("Metadata = %v", segs[0].Metadata)
	}
}

func TestSplitRespectsBudgetAndPreservesMetadata(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 12; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word"+strconv.Itoa(i)+" ", 7)+"end.")
	}
	doc := models.Document{
		ID:      "d1",
		Content: strings.Join(paragraphs, "\n\n"),
		Metadata: map[string]string{
			models.MetaFileName: "long.txt",
			"author":            "test",
		},
	}

	s, _ := NewRecursive(20, 0, nil)
	segs, err := s.Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}

	counter := WordPunctCounter{}
	for i, seg := range segs {
		if n := counter.Count(seg.Text); n > 20 {
			t.Errorf("segment %d has %d tokens, want <= 20", i, n)
		}
		if seg.Metadata[models.MetaIndex] != strconv.Itoa(i) {
			t.Errorf("segment %d index = %q", i, seg.Metadata[models.MetaIndex])
		}
		if seg.Metadata[models.MetaFileName] != "long.txt" || seg.Metadata["author"] != "test" {
			t.Errorf("segment %d lost metadata: %v", i, seg.Metadata)
		}
	}
	if _, ok := doc.Metadata[models.MetaIndex]; ok {
		t.Error("document metadata was mutated")
	}
}

func TestSplitDescendsToSentencesAndWords(t *testing.T) {
	s, _ := NewRecursive(6, 0, nil)
	text := "One two three. Four five six seven eight nine ten."

	// The second sentence is too long, so it is cut into words and the
	// words are packed greedily after the first sentence.
	got := s.SplitText(text)
	want := []string{"One two three. Four five", "six seven eight nine ten."}
	if len(got) != len(want) {
		t.Fatalf("SplitText() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitFallsBackToCharacters(t *testing.T) {
	s, _ := NewRecursive(3, 0, nil)
	got := s.SplitText("a.b.c.d")

	counter := WordPunctCounter{}
	if strings.Join(got, "") != "a.b.c.d" {
		t.Errorf("character split lost content: %q", got)
	}
	for _, seg := range got {
		if counter.Count(seg) > 3 {
			t.Errorf("segment %q exceeds budget", seg)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	s, _ := NewRecursive(5, 2, nil)
	got := s.SplitText("alpha beta gamma delta epsilon zeta eta theta")

	if len(got) < 2 {
		t.Fatalf("expected multiple segments, got %q", got)
	}
	for i := 1; i < len(got); i++ {
		prevWords := strings.Fields(got[i-1])
		tail := strings.Join(prevWords[len(prevWords)-2:], " ")
		if !strings.HasPrefix(got[i], tail) {
			t.Errorf("segment %d = %q does not start with overlap %q", i, got[i], tail)
		}
	}
	counter := WordPunctCounter{}
	for _, seg := range got {
		if counter.Count(seg) > 5 {
			t.Errorf("segment %q exceeds budget", seg)
		}
	}
}

func TestSplitOverlapAcrossParagraphs(t *testing.T) {
	s, _ := NewRecursive(5, 2, nil)
	got := s.SplitText("one two three.\n\nfour five six seven.\n\neight.")

	want := []string{
		"one two three.\n\nfour",
		"four five six seven.",
		"seven.\n\neight.",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("SplitText() = %q, want %q", got, want)
	}
}

func TestSplitOverlapInsideLongWord(t *testing.T) {
	s, _ := NewRecursive(5, 2, nil)
	text := strings.Repeat("!", 12)
	got := s.SplitText(text)

	if len(got) < 2 {
		t.Fatalf("expected multiple segments, got %q", got)
	}
	counter := WordPunctCounter{}
	rebuilt := got[0]
	for i := 1; i < len(got); i++ {
		if !strings.HasPrefix(got[i], "!!") || len(got[i]) <= 2 {
			t.Errorf("segment %d = %q does not start with a two-token overlap", i, got[i])
			continue
		}
		rebuilt += got[i][2:]
	}
	for _, seg := range got {
		if counter.Count(seg) > 5 {
			t.Errorf("segment %q exceeds budget", seg)
		}
	}
	if rebuilt != text {
		t.Errorf("segments without overlap = %q, want %q", rebuilt, text)
	}
}

func TestTailCountsTokens(t *testing.T) {
	s, _ := NewRecursive(10, 3, nil)
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{name: "whole words", text: "alpha beta gamma", limit: 2, want: "beta gamma"},
		{name: "punctuation counts", text: "one two three.", limit: 2, want: "three."},
		{name: "keeps separator", text: "end.\n\nnext", limit: 3, want: "end.\n\nnext"},
		{name: "cuts inside word", text: "a !!!!!", limit: 2, want: "!!"},
		{name: "trailing space ignored", text: "x y  ", limit: 1, want: "y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.tail(tt.text, tt.limit); got != tt.want {
				t.Errorf("tail(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSplitEmptyDocument(t *testing.T) {
	s, _ := NewRecursive(10, 0, nil)
	segs, err := s.Split(models.Document{Content: "  \n\n "})
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("got %d segments, want 0", len(segs))
	}
}

func TestSplitAll(t *testing.T) {
	s, _ := NewRecursive(300, 0, nil)
	docs := []models.Document{
		{ID: "a", Content: "first", Metadata: map[string]string{models.MetaFileName: "a.txt"}},
		{ID: "b", Content: "second", Metadata: map[string]string{models.MetaFileName: "b.txt"}},
	}
	segs, err := SplitAll(s, docs)
	if err != nil {
		t.Fatalf("SplitAll() error = %v", err)
	}
	if len(segs) != 2 || segs[1].Metadata[models.MetaFileName] != "b.txt" || segs[1].Metadata[models.MetaIndex] != "0" {
		t.Errorf("segments = %+v", segs)
	}
}
