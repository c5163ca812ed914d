// Package chunk splits text into overlapping word-bounded chunks sized for
// embedding. Splitting is a pure function: the same input always produces the
// same chunk boundaries, so re-chunking is reproducible for diffing.
package chunk

import "strings"

const (
	// DefaultSize is the target chunk size in words.
	DefaultSize = 500

	// DefaultOverlap is the number of words shared between consecutive chunks.
	DefaultOverlap = 50
)

// Splitter produces overlapping word chunks.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a Splitter. Non-positive size or an overlap outside
// [0, size) falls back to the defaults.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the ordered chunks of text. Consecutive chunks share overlap
// trailing/leading words; the final chunk may be shorter than the target size.
// Empty or whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	if len(words) <= s.size {
		return []string{strings.Join(words, " ")}
	}

	step := s.size - s.overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + s.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Split chunks text with the default size and overlap.
func Split(text string) []string {
	return NewSplitter(DefaultSize, DefaultOverlap).Split(text)
}
