package voicecmd

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voxtable/pkg/table"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a label whose
// Double Metaphone codes overlap the spoken key. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a label with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) { r.fuzzyThreshold = threshold }
}

// Resolver maps the column keys a model returns onto live column ids. Models
// regularly answer with the label ("Quantity") or a misheard variant of it
// instead of the id. Resolver is read-only after construction and safe for
// concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewResolver returns a Resolver with the default thresholds.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the id of the column key refers to. Lookup order is exact
// id, case-insensitive id, case-insensitive label, then the closest label by
// phonetic and Jaro-Winkler similarity. ok is false when nothing qualifies.
func (r *Resolver) Resolve(key string, cols []table.Column) (id string, ok bool) {
	for _, c := range cols {
		if c.ID == key {
			return c.ID, true
		}
	}
	norm := strings.ToLower(strings.TrimSpace(key))
	if norm == "" {
		return "", false
	}
	for _, c := range cols {
		if strings.ToLower(c.ID) == norm {
			return c.ID, true
		}
	}
	for _, c := range cols {
		if strings.ToLower(strings.TrimSpace(c.Label)) == norm {
			return c.ID, true
		}
	}
	return r.closest(norm, cols)
}

func (r *Resolver) closest(key string, cols []table.Column) (string, bool) {
	keyTokens := strings.Fields(key)
	keyCodes := codesForTokens(keyTokens)

	var (
		bestID       string
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range cols {
		label := strings.ToLower(strings.TrimSpace(c.Label))
		if label == "" {
			continue
		}
		labelTokens := strings.Fields(label)
		phonetic := codesOverlap(keyCodes, codesForTokens(labelTokens))
		score := bestJWScore(keyTokens, labelTokens, key, label)

		switch {
		case phonetic && score >= r.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestID, bestScore, bestPhonetic = c.ID, score, true
			}
		case !phonetic && !bestPhonetic && score >= r.fuzzyThreshold && score > bestScore:
			bestID, bestScore = c.ID, score
		}
	}
	return bestID, bestID != ""
}

// codesForTokens returns the union of Double Metaphone codes for tokens.
// Words without consonants produce no code.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(keyTokens, labelTokens []string, key, label string) float64 {
	score := matchr.JaroWinkler(key, label, false)
	if len(keyTokens) > 1 || len(labelTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(keyTokens, ""), strings.Join(labelTokens, ""), false); s > score {
			score = s
		}
	}
	for _, a := range keyTokens {
		for _, b := range labelTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
