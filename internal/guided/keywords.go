package guided

import (
	"maps"
	"strings"
)

// KeywordSet holds the command words recognised for one language.
type KeywordSet struct {
	Stop []string `yaml:"stop" json:"stop"`
	Skip []string `yaml:"skip" json:"skip"`
}

// Keywords maps a language tag to its command words. Lookups accept full
// BCP-47 tags ("ru-RU") and fall back to the base tag ("ru") and then to
// English.
type Keywords map[string]KeywordSet

// fallbackLanguage is used when neither the full nor base tag is known.
const fallbackLanguage = "en"

// DefaultKeywords returns the built-in command words.
func DefaultKeywords() Keywords {
	return Keywords{
		"en": {
			Stop: []string{"stop", "exit"},
			Skip: []string{"skip", "next"},
		},
		"ru": {
			Stop: []string{"стоп", "выход", "хватит"},
			Skip: []string{"дальше", "пропустить", "скип"},
		},
	}
}

// For returns the set for lang.
func (k Keywords) For(lang string) KeywordSet {
	tag := strings.ToLower(strings.TrimSpace(lang))
	if set, ok := k[tag]; ok {
		return set
	}
	if base, _, found := strings.Cut(tag, "-"); found {
		if set, ok := k[base]; ok {
			return set
		}
	}
	if base, _, found := strings.Cut(tag, "_"); found {
		if set, ok := k[base]; ok {
			return set
		}
	}
	return k[fallbackLanguage]
}

// Merge returns a copy of k with every language in over replacing k's entry.
// Keys are lower-cased.
func (k Keywords) Merge(over Keywords) Keywords {
	out := make(Keywords, len(k)+len(over))
	maps.Copy(out, k)
	for lang, set := range over {
		out[strings.ToLower(lang)] = set
	}
	return out
}

// Command is the classification of one utterance.
type Command int

const (
	// CommandNone means the utterance was empty after trimming.
	CommandNone Command = iota
	// CommandStop ends the session.
	CommandStop
	// CommandSkip advances without writing.
	CommandSkip
	// CommandValue writes the utterance to the current cell.
	CommandValue
)

// String implements fmt.Stringer.
func (c Command) String() string {
	switch c {
	case CommandStop:
		return "stop"
	case CommandSkip:
		return "skip"
	case CommandValue:
		return "value"
	default:
		return "none"
	}
}

// Classify decides what text means under set. Matching is substring
// containment on the lower-cased trimmed text; stop words are checked before
// skip words. The returned string is the trimmed text.
func Classify(text string, set KeywordSet) (Command, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return CommandNone, ""
	}
	lower := strings.ToLower(trimmed)
	if containsAny(lower, set.Stop) {
		return CommandStop, trimmed
	}
	if containsAny(lower, set.Skip) {
		return CommandSkip, trimmed
	}
	return CommandValue, trimmed
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}
