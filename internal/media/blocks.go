package media

import (
	"errors"
	"regexp"
	"strings"

	"github.com/loqalabs/textreel/internal/failure"
)

// TextBlock is one paragraph of narration. Index is its position in the input.
type TextBlock struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

var paragraphBreak = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)

// ParseBlocks splits raw input on blank lines and drops empty paragraphs.
func ParseBlocks(raw string) ([]TextBlock, error) {
	return NewBlocks(paragraphBreak.Split(raw, -1))
}

// NewBlocks trims each entry and keeps the non-empty ones in order.
func NewBlocks(texts []string) ([]TextBlock, error) {
	blocks := make([]TextBlock, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		blocks = append(blocks, TextBlock{Index: len(blocks), Text: t})
	}
	if len(blocks) == 0 {
		return nil, failure.New(failure.InvalidInput, "parse blocks", errors.New("no narration text provided"))
	}
	return blocks, nil
}

// ValidateBlocks checks an already-built block list.
func ValidateBlocks(blocks []TextBlock) error {
	if len(blocks) == 0 {
		return failure.New(failure.InvalidInput, "validate blocks", errors.New("no narration text provided"))
	}
	for i, b := range blocks {
		if b.Index != i {
			return failure.Errorf(failure.InvalidInput, "validate blocks", "block %d has index %d", i, b.Index)
		}
		if strings.TrimSpace(b.Text) == "" {
			return failure.Errorf(failure.InvalidInput, "validate blocks", "block %d is empty", i)
		}
	}
	return nil
}

// WordCount is used by estimators and the mock synthesizer.
func (b TextBlock) WordCount() int {
	return len(strings.Fields(b.Text))
}
