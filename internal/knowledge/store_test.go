package knowledge

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stelwijs/stelwijs/internal/log"
)

func TestNewStoreRequiresPool(t *testing.T) {
	if _, err := NewStore(nil, log.NewNop()); err == nil {
		t.Error("NewStore(nil) should fail")
	}
}

func TestSearchNonPositiveTopK(t *testing.T) {
	// topK <= 0 must return before touching the database.
	s := &Store{logger: log.NewNop()}
	for _, topK := range []int{0, -1} {
		results, err := s.Search(context.Background(), make([]float32, 4), topK)
		if err != nil {
			t.Fatalf("Search(topK=%d): %v", topK, err)
		}
		if results != nil {
			t.Errorf("Search(topK=%d) = %v, want nil", topK, results)
		}
	}
}

func TestMakeSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, got string)
	}{
		{
			name:    "short content unchanged",
			content: "Controleer de ankers bij elke keuring.",
			check: func(t *testing.T, got string) {
				if got != "Controleer de ankers bij elke keuring." {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name:    "whitespace collapsed",
			content: "eerste  regel\n\ntweede\tregel",
			check: func(t *testing.T, got string) {
				if got != "eerste regel tweede regel" {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name:    "long content trimmed at word boundary",
			content: strings.Repeat("magazijnstelling ", 30),
			check: func(t *testing.T, got string) {
				if n := utf8.RuneCountInString(got); n > snippetMaxRunes {
					t.Errorf("snippet has %d runes, exceeds %d", n, snippetMaxRunes)
				}
				if !strings.HasSuffix(got, "…") {
					t.Errorf("trimmed snippet missing ellipsis: %q", got)
				}
				if strings.HasSuffix(strings.TrimSuffix(got, "…"), "magazijnstellin") {
					t.Errorf("snippet cut mid-word: %q", got)
				}
			},
		},
		{
			name:    "long content without spaces hard cut",
			content: strings.Repeat("x", 500),
			check: func(t *testing.T, got string) {
				if n := utf8.RuneCountInString(got); n > snippetMaxRunes {
					t.Errorf("snippet has %d runes, exceeds %d", n, snippetMaxRunes)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, makeSnippet(tt.content))
		})
	}
}
