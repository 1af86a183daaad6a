package ingest

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts between text and token ids
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// TiktokenTokenizer wraps a tiktoken BPE encoding
type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding, e.g. "cl100k_base". The
// encoding data may be downloaded on first use.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

// Encode implements Tokenizer
func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode implements Tokenizer
func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Splitter cuts text into windows of at most Size tokens, each starting
// Size-Overlap tokens after the previous one.
type Splitter struct {
	tok     Tokenizer
	size    int
	overlap int
}

// NewSplitter validates the window parameters
func NewSplitter(tok Tokenizer, size, overlap int) (*Splitter, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	return &Splitter{tok: tok, size: size, overlap: overlap}, nil
}

// Split returns the non-blank chunks of text in order
func (s *Splitter) Split(text string) []string {
	ids := s.tok.Encode(text)
	chunks := []string{}

	for start := 0; start < len(ids); start += s.size - s.overlap {
		end := start + s.size
		if end > len(ids) {
			end = len(ids)
		}
		if chunk := s.tok.Decode(ids[start:end]); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(ids) {
			break
		}
	}
	return chunks
}
