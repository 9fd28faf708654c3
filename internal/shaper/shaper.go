// Package shaper compacts fetched documents into token-budgeted payloads.
//
// Fields are emitted in a per-entity priority order. When the running total
// would exceed the budget, lower-priority text fields are truncated at a
// sentence or word boundary and annotated with a marker; list fields keep a
// fitting prefix of their items; anything else is skipped. If the entity's
// top-priority content field alone exceeds the budget it is hard-truncated
// (mid-word if there is no boundary to cut at) and the payload is marked
// budget_exhausted, so the caller always receives the most decision-relevant
// content.
package shaper

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TruncationMarker is appended to every truncated text field.
const TruncationMarker = " …[truncated]"

// DefaultBudget is the per-response token budget.
const DefaultBudget = 3000

// Payload is a shaped JSON-ready document.
type Payload = map[string]interface{}

// Shaper applies the budget to documents and document lists.
type Shaper struct {
	est    TokenEstimator
	budget int
}

// New returns a Shaper with the given estimator and budget. A non-positive
// budget falls back to DefaultBudget.
func New(est TokenEstimator, budget int) *Shaper {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if est == nil {
		est = HeuristicEstimator{}
	}
	return &Shaper{est: est, budget: budget}
}

// Budget returns the configured token budget.
func (s *Shaper) Budget() int {
	return s.budget
}

// field is one prioritized document field. top marks the entity's
// top-priority content field, whose truncation flags budget exhaustion.
type field struct {
	name  string
	value interface{}
	top   bool
}

// cost estimates the token cost of a field value.
func (s *Shaper) cost(value interface{}) int {
	switch v := value.(type) {
	case string:
		return s.est.Estimate(v)
	case int:
		return s.est.Estimate(strconv.Itoa(v))
	case []string:
		total := 0
		for _, item := range v {
			total += s.est.Estimate(item)
		}
		return total
	case nil:
		return 0
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		return s.est.Estimate(string(data))
	}
}

// shapeDoc emits fields in priority order under the budget. Returns the
// payload and whether the budget was exhausted on the top-priority field.
func (s *Shaper) shapeDoc(fields []field) (Payload, bool) {
	out := make(Payload, len(fields))
	remaining := s.budget
	exhausted := false

	for _, f := range fields {
		if f.value == nil {
			continue
		}
		c := s.cost(f.value)
		if c <= remaining {
			out[f.name] = f.value
			remaining -= c
			continue
		}

		switch v := f.value.(type) {
		case string:
			trunc := s.truncate(v, remaining, f.top)
			if trunc != "" {
				out[f.name] = trunc
				remaining -= s.cost(trunc)
				if remaining < 0 {
					remaining = 0
				}
			}
			if f.top {
				exhausted = true
			}
		case []string:
			kept := s.fitList(v, remaining)
			if len(kept) > 0 {
				out[f.name] = kept
				remaining -= s.cost(kept)
			}
		default:
			// Structured values are all-or-nothing.
		}
	}
	return out, exhausted
}

// fitList returns the longest item prefix whose total cost fits budget.
func (s *Shaper) fitList(items []string, budget int) []string {
	var kept []string
	for _, item := range items {
		c := s.est.Estimate(item)
		if c > budget {
			break
		}
		kept = append(kept, item)
		budget -= c
	}
	return kept
}

// truncate cuts text so that the result, marker included, costs at most
// budget tokens. The cut lands on a sentence boundary when one exists in the
// fitting prefix, else on a word boundary. With hard set a boundary-free
// prefix is cut mid-word rather than dropped; without it the field is
// dropped (empty return) when no boundary fits. When the marker alone would
// overflow the budget, a hard cut is emitted bare and a soft field is
// dropped, so the result never exceeds the budget.
func (s *Shaper) truncate(text string, budget int, hard bool) string {
	avail := budget - s.est.Estimate(TruncationMarker)
	if avail <= 0 {
		if !hard {
			return ""
		}
		avail = 1
	}

	prefix := s.fitPrefix(text, avail)
	if prefix == "" {
		if !hard {
			return ""
		}
		prefix = string([]rune(text)[:1])
	}

	cut := prefix
	if idx := lastSentenceEnd(prefix); idx > 0 {
		cut = prefix[:idx]
	} else if idx := strings.LastIndexAny(prefix, " \t\n"); idx > 0 {
		cut = strings.TrimRight(prefix[:idx], " \t\n")
	} else if !hard {
		return ""
	}

	result := cut + TruncationMarker
	// Guard against estimator boundary effects around the concatenation.
	for s.est.Estimate(result) > budget && len(cut) > 1 {
		cut = cut[:len(cut)-1]
		result = cut + TruncationMarker
	}
	if s.est.Estimate(result) > budget {
		// The marker alone overflows a tiny budget. Degrade to a bare cut
		// rather than ever exceeding the budget.
		if !hard {
			return ""
		}
		return s.fitPrefix(text, budget)
	}
	return result
}

// fitPrefix returns the largest rune prefix of text whose cost fits budget.
// The estimator is monotonic, so binary search over prefix length is valid.
func (s *Shaper) fitPrefix(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.est.Estimate(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// lastSentenceEnd returns the index just past the last sentence-ending
// punctuation that is followed by whitespace or ends the string, or -1.
func lastSentenceEnd(text string) int {
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case '.', '!', '?':
			if i == len(text)-1 || text[i+1] == ' ' || text[i+1] == '\n' {
				return i + 1
			}
		}
	}
	return -1
}

// listOverhead reserves budget for the emitted/total bookkeeping fields.
const listOverhead = 8

// shapeList emits whole items in the given order until the budget runs out,
// then reports the rest as a count. When not even the first item fits whole,
// that item is shaped down into the remaining budget so the response is
// never empty.
func (s *Shaper) shapeList(docs [][]field) Payload {
	out := Payload{"total": len(docs)}
	remaining := s.budget - listOverhead
	exhausted := false

	items := make([]Payload, 0, len(docs))
	for _, fields := range docs {
		cost := 0
		for _, f := range fields {
			cost += s.cost(f.value)
		}
		if cost <= remaining {
			item := make(Payload, len(fields))
			for _, f := range fields {
				if f.value != nil {
					item[f.name] = f.value
				}
			}
			items = append(items, item)
			remaining -= cost
			continue
		}

		if len(items) == 0 {
			// First item alone exceeds the budget: emit its shaped form.
			shaped, hard := (&Shaper{est: s.est, budget: remaining}).shapeDoc(fields)
			items = append(items, shaped)
			exhausted = hard
		}
		break
	}

	out["items"] = items
	out["emitted"] = len(items)
	if exhausted {
		out["budget_exhausted"] = true
	}
	return out
}

// PayloadCost sums the estimated cost of a shaped payload's content fields.
// The budget_exhausted annotation is diagnostic, not budgeted content, and
// is not counted. Exposed for budget-compliance checks in tests and
// diagnostics.
func (s *Shaper) PayloadCost(p Payload) int {
	total := 0
	for name, v := range p {
		if name == "budget_exhausted" {
			continue
		}
		total += s.cost(v)
	}
	return total
}
