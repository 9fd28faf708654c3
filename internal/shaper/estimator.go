package shaper

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator approximates the language-model token cost of a string.
// Implementations must be deterministic and monotonic: more characters never
// yields a lower estimate.
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator counts roughly one token per four characters, the
// classic approximation for English prose. It needs no model data and is the
// default estimator.
type HeuristicEstimator struct{}

// Estimate returns ceil(chars/4).
func (HeuristicEstimator) Estimate(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TiktokenEstimator counts real BPE tokens using a tiktoken encoding. More
// accurate than the heuristic but requires the encoding's vocabulary to be
// available at startup.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Estimate returns the exact token count under the loaded encoding.
func (t *TiktokenEstimator) Estimate(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
