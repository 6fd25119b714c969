package chunker

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kailas-cloud/ragflow/internal/domain"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		wantErr       bool
	}{
		{"defaults", DefaultChunkSize, DefaultChunkOverlap, false},
		{"no overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.overlap)
			if tc.wantErr != (err != nil) {
				t.Fatalf("wantErr=%v, got %v", tc.wantErr, err)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSplit_DropsBlankPages(t *testing.T) {
	c, err := New(DefaultChunkSize, DefaultChunkOverlap)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Split([]string{"", "  \n\t", "first page", "\n", "second page"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0] != "first page" || chunks[1] != "second page" {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestSplit_AllBlank(t *testing.T) {
	c, _ := New(DefaultChunkSize, DefaultChunkOverlap)
	chunks, err := c.Split([]string{" ", "\n\n"})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestSplit_WindowAndOrder(t *testing.T) {
	c, err := New(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	words := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		words = append(words, "word"+string(rune('a'+i%26)))
	}
	page := strings.Join(words, " ")

	chunks, err := c.Split([]string{page})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if utf8.RuneCountInString(ch) > 50 {
			t.Errorf("chunk %d exceeds window: %d runes", i, utf8.RuneCountInString(ch))
		}
		if strings.TrimSpace(ch) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
	if !strings.HasPrefix(page, chunks[0]) {
		t.Errorf("first chunk %q does not start the page", chunks[0])
	}
	if !strings.HasSuffix(page, chunks[len(chunks)-1]) {
		t.Errorf("last chunk %q does not end the page", chunks[len(chunks)-1])
	}
}

func TestSplit_Deterministic(t *testing.T) {
	c, _ := New(40, 5)
	pages := []string{strings.Repeat("alpha beta gamma delta ", 20)}
	a, _ := c.Split(pages)
	b, _ := c.Split(pages)
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Error("split is not deterministic")
	}
}
