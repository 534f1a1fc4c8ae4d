package tokens

import (
	"fmt"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultCharsPerToken is the heuristic ratio for English text and code
const DefaultCharsPerToken = 4

// DefaultEncoding is the tiktoken encoding used by GPT-4 class models
const DefaultEncoding = "cl100k_base"

// Estimator counts the tokens a text will cost
type Estimator interface {
	Count(text string) int
}

// CharEstimator estimates ceil(runes / CharsPerToken)
type CharEstimator struct {
	CharsPerToken int
}

// Count returns the estimated token count of text
func (e CharEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	ratio := e.CharsPerToken
	if ratio <= 0 {
		ratio = DefaultCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	return (n + ratio - 1) / ratio
}

// TiktokenEstimator counts real BPE tokens
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding; empty selects cl100k_base
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding %s: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Count returns the number of tokens in text
func (e *TiktokenEstimator) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}
