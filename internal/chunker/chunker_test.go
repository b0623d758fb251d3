package chunker

import (
	"errors"
	"strings"
	"testing"
)

func mustSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return s
}

func TestNewRejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.size, tt.overlap); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("New(%d, %d) = %v, want ErrInvalidParams", tt.size, tt.overlap, err)
			}
		})
	}
}

func TestSplitShortTextYieldsOneChunk(t *testing.T) {
	s := mustSplitter(t, 1000, 200)

	chunks := s.Split("short document")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "short document" || chunks[0].Index != 0 {
		t.Errorf("unexpected chunk %+v", chunks[0])
	}
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	s := mustSplitter(t, 1000, 200)
	if chunks := s.Split(""); chunks != nil {
		t.Errorf("Split(\"\") = %v, want nil", chunks)
	}
}

// A 2400-character document at size 1000 / overlap 200 produces exactly
// three chunks: [0,1000), [800,1800), [1600,2400).
func TestSplit2400CharsYieldsThreeChunks(t *testing.T) {
	s := mustSplitter(t, 1000, 200)
	text := strings.Repeat("a", 2400)

	chunks := s.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	wantLens := []int{1000, 1000, 800}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Text) != wantLens[i] {
			t.Errorf("chunk %d has length %d, want %d", i, len(c.Text), wantLens[i])
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	s := mustSplitter(t, 50, 10)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)

	first := s.Split(text)
	second := s.Split(text)

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

// Concatenating chunk texts while stripping the declared overlap from every
// chunk after the first reconstructs the original text exactly.
func TestSplitReconstruction(t *testing.T) {
	texts := []string{
		strings.Repeat("abcdefghij", 240),
		"short",
		strings.Repeat("héllo wörld ", 300),
		strings.Repeat("x", 1001),
	}
	configs := []struct{ size, overlap int }{
		{1000, 200},
		{100, 25},
		{64, 0},
	}

	for _, cfg := range configs {
		s := mustSplitter(t, cfg.size, cfg.overlap)
		for _, text := range texts {
			chunks := s.Split(text)
			var b strings.Builder
			for i, c := range chunks {
				runes := []rune(c.Text)
				if i == 0 {
					b.WriteString(c.Text)
					continue
				}
				if len(runes) < cfg.overlap {
					t.Fatalf("size=%d overlap=%d: chunk %d shorter than overlap", cfg.size, cfg.overlap, i)
				}
				b.WriteString(string(runes[cfg.overlap:]))
			}
			if b.String() != text {
				t.Errorf("size=%d overlap=%d: reconstruction mismatch (len %d vs %d)",
					cfg.size, cfg.overlap, b.Len(), len(text))
			}
		}
	}
}

func TestSplitConsecutiveChunksShareOverlap(t *testing.T) {
	s := mustSplitter(t, 100, 30)
	text := strings.Repeat("0123456789", 50)

	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		tail := string(prev[len(prev)-30:])
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not start with previous chunk's 30-rune tail", i)
		}
	}
}

func TestDecodePlainFormats(t *testing.T) {
	tests := []struct {
		declared string
		raw      string
	}{
		{"txt", "plain text"},
		{".txt", "dotted extension"},
		{"notes.md", "markdown body"},
		{"markdown", "# heading"},
	}
	for _, tt := range tests {
		got, err := Decode([]byte(tt.raw), tt.declared)
		if err != nil {
			t.Errorf("Decode(%q): %v", tt.declared, err)
			continue
		}
		if got != tt.raw {
			t.Errorf("Decode(%q) = %q, want %q", tt.declared, got, tt.raw)
		}
	}
}

func TestDecodeHTMLStripsMarkup(t *testing.T) {
	raw := `<html><head><style>p{color:red}</style></head>
<body><script>alert(1)</script><p>Refund   policy</p><p>applies here.</p></body></html>`

	got, err := Decode([]byte(raw), "policy.html")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "Refund policy applies here." {
		t.Errorf("Decode(html) = %q", got)
	}
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	for _, declared := range []string{"pdf", "report.docx", "bin", ""} {
		if _, err := Decode([]byte("data"), declared); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Decode(%q) = %v, want ErrUnsupportedFormat", declared, err)
		}
	}
}
