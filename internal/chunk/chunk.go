// Package chunk splits normalized markdown text into bounded, overlapping
// passages. Chunks are the atomic unit of embedding and retrieval: they must
// be small enough to embed well and carry enough overlap that information
// spanning a boundary is still retrievable.
package chunk

// Default splitting parameters, counted in runes.
const (
	// DefaultMaxSize is the target chunk size. Roughly aligned with the
	// embedding model's useful context.
	DefaultMaxSize = 512

	// DefaultOverlap is how many trailing runes of a chunk reappear at the
	// start of the next one.
	DefaultOverlap = 50
)

// Options configures Split.
type Options struct {
	// MaxSize is the maximum chunk length in runes; non-positive selects
	// DefaultMaxSize.
	MaxSize int

	// Overlap is how many trailing runes of a chunk reappear at the start of
	// the next one. Zero is honored as no overlap; negative selects
	// DefaultOverlap.
	Overlap int
}

func (o Options) normalized() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.Overlap < 0 {
		o.Overlap = DefaultOverlap
	}
	// Overlap must leave room to advance.
	if o.Overlap >= o.MaxSize {
		o.Overlap = o.MaxSize / 4
	}
	return o
}

// Split cuts text into ordered chunks of at most opts.MaxSize runes, each
// non-first chunk starting with the last opts.Overlap runes of its
// predecessor. Cuts prefer paragraph breaks, then line breaks, then word
// boundaries, so passages read cleanly and markdown structure survives.
//
// Invariant: dropping the trailing Overlap runes of every chunk except the
// last and concatenating the rest reconstructs text exactly.
//
// Empty input yields nil; input shorter than MaxSize yields one chunk.
func Split(text string, opts Options) []string {
	if text == "" {
		return nil
	}

	opts = opts.normalized()
	runes := []rune(text)
	if len(runes) <= opts.MaxSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + opts.MaxSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}

		cut := findCut(runes, start, end, opts)
		chunks = append(chunks, string(runes[start:cut]))
		start = cut - opts.Overlap
	}
}

// findCut picks the cut position in (start, end] for the chunk beginning at
// start. Soft boundaries (paragraph break, newline, space) are only taken in
// the second half of the window so every chunk makes real progress; a window
// without any boundary is cut hard at end.
func findCut(runes []rune, start, end int, opts Options) int {
	// Soft boundaries must not shrink the chunk below half the target size
	// and must always advance past the overlap region.
	minCut := start + opts.MaxSize/2
	if minCut <= start+opts.Overlap {
		minCut = start + opts.Overlap + 1
	}

	// Prefer cutting just after a paragraph break so the next chunk starts
	// (modulo overlap) at a fresh paragraph.
	for i := end; i > minCut; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}

	for i := end; i > minCut; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}

	for i := end; i > minCut; i-- {
		if runes[i-1] == ' ' {
			return i
		}
	}

	return end
}
