package chunk

import (
	"strings"
	"testing"
)

func TestSplitEmptyText(t *testing.T) {
	if got := Split("", Options{}); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
}

func TestSplitShortText(t *testing.T) {
	text := "A short paragraph about rack safety."
	chunks := Split(text, Options{MaxSize: 512, Overlap: 50})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk = %q, want original text", chunks[0])
	}
}

// reconstruct drops the trailing overlap of every chunk except the last and
// concatenates the remainder.
func reconstruct(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == len(chunks)-1 {
			b.WriteString(c)
			break
		}
		runes := []rune(c)
		b.WriteString(string(runes[:len(runes)-overlap]))
	}
	return b.String()
}

func TestSplitReconstruction(t *testing.T) {
	tests := []struct {
		name string
		text string
		opts Options
	}{
		{
			name: "paragraphs",
			text: strings.Repeat("Pallet racks must be inspected yearly.\n\nDamaged uprights reduce load capacity.\n\n", 30),
			opts: Options{MaxSize: 512, Overlap: 50},
		},
		{
			name: "single long paragraph",
			text: strings.Repeat("veiligheid ", 500),
			opts: Options{MaxSize: 512, Overlap: 50},
		},
		{
			name: "no whitespace at all",
			text: strings.Repeat("x", 3000),
			opts: Options{MaxSize: 256, Overlap: 32},
		},
		{
			name: "multibyte runes",
			text: strings.Repeat("магазийн 倉庫 véiligheid\n\n", 120),
			opts: Options{MaxSize: 200, Overlap: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.text, tt.opts)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			got := reconstruct(chunks, tt.opts.Overlap)
			if got != tt.text {
				t.Errorf("reconstruction mismatch: got %d runes, want %d", len([]rune(got)), len([]rune(tt.text)))
			}
		})
	}
}

func TestSplitOverlapSharedWithPredecessor(t *testing.T) {
	text := strings.Repeat("The maximum load of a rack depends on beam spacing. ", 80)
	opts := Options{MaxSize: 512, Overlap: 50}

	chunks := Split(text, opts)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])
		tail := string(prev[len(prev)-opts.Overlap:])
		head := string(cur[:opts.Overlap])
		if tail != head {
			t.Errorf("chunk %d head %q does not match chunk %d tail %q", i, head, i-1, tail)
		}
	}
}

func TestSplit3000CharDocument(t *testing.T) {
	// A 3000-character markdown document with 512/50 must produce at least
	// 6 chunks, each within the size bound.
	var b strings.Builder
	b.WriteString("# Stellingbelasting\n\n")
	for b.Len() < 3000 {
		b.WriteString("De maximale belasting van een stelling hangt af van het type ligger en de staanderafstand. Controleer het belastingbord.\n\n")
	}
	text := b.String()[:3000]
	opts := Options{MaxSize: 512, Overlap: 50}

	chunks := Split(text, opts)
	if len(chunks) < 6 {
		t.Errorf("got %d chunks, want >= 6", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 512 {
			t.Errorf("chunk %d has %d runes, exceeds 512", i, n)
		}
	}
	if got := reconstruct(chunks, opts.Overlap); got != text {
		t.Error("reconstruction mismatch for 3000-char document")
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	// Build text where paragraph breaks land inside the cut window; cuts
	// should happen right after "\n\n", never mid-word.
	para := strings.Repeat("woord ", 60) // 360 runes
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := Split(text, Options{MaxSize: 512, Overlap: 50})
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, "\n\n") && !strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d ends mid-word: ...%q", i, c[len(c)-12:])
		}
	}
}

func TestSplitDefaults(t *testing.T) {
	text := strings.Repeat("a ", 600) // 1200 runes
	chunks := Split(text, Options{MaxSize: 0, Overlap: -1})
	if len(chunks) < 2 {
		t.Fatalf("expected defaults to split 1200 runes, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > DefaultMaxSize {
			t.Errorf("chunk %d has %d runes, exceeds default max %d", i, n, DefaultMaxSize)
		}
	}
	if got := reconstruct(chunks, DefaultOverlap); got != text {
		t.Error("default-overlap reconstruction mismatch")
	}
}

func TestSplitZeroOverlap(t *testing.T) {
	text := strings.Repeat("woord ", 200) // 1200 runes
	chunks := Split(text, Options{MaxSize: 256, Overlap: 0})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Zero overlap means chunks tile the text exactly.
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("concatenation mismatch: got %d runes, want %d", len([]rune(got)), len([]rune(text)))
	}
}

func TestSplitOverlapLargerThanMaxSizeIsClamped(t *testing.T) {
	text := strings.Repeat("b", 500)
	chunks := Split(text, Options{MaxSize: 100, Overlap: 200})
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	// Must terminate and still cover the text.
	if got := reconstruct(chunks, 100/4); got != text {
		t.Error("clamped-overlap reconstruction mismatch")
	}
}
