package guided

import (
	"slices"
	"testing"
)

func TestKeywords_For(t *testing.T) {
	t.Parallel()
	kw := DefaultKeywords()
	tests := []struct {
		lang     string
		wantStop string
	}{
		{"en", "stop"},
		{"en-US", "stop"},
		{"ru", "стоп"},
		{"ru-RU", "стоп"},
		{"RU_ru", "стоп"},
		{"de-DE", "stop"},
		{"", "stop"},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			t.Parallel()
			if got := kw.For(tt.lang).Stop; !slices.Contains(got, tt.wantStop) {
				t.Errorf("For(%q).Stop = %v, want it to contain %q", tt.lang, got, tt.wantStop)
			}
		})
	}
}

func TestKeywords_Merge(t *testing.T) {
	t.Parallel()
	base := DefaultKeywords()
	merged := base.Merge(Keywords{
		"DE": {Stop: []string{"halt"}, Skip: []string{"weiter"}},
		"en": {Stop: []string{"done"}, Skip: []string{"pass"}},
	})
	if got := merged.For("de-AT").Skip; !slices.Equal(got, []string{"weiter"}) {
		t.Errorf("de skip = %v", got)
	}
	if got := merged.For("en").Stop; !slices.Equal(got, []string{"done"}) {
		t.Errorf("en stop = %v, want override", got)
	}
	if got := base.For("en").Stop; !slices.Contains(got, "stop") {
		t.Error("Merge modified the receiver")
	}
	if got := merged.For("ru").Stop; !slices.Contains(got, "хватит") {
		t.Error("Merge dropped an untouched language")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	en := DefaultKeywords().For("en")
	ru := DefaultKeywords().For("ru")
	tests := []struct {
		name string
		text string
		set  KeywordSet
		want Command
	}{
		{"empty", "", en, CommandNone},
		{"whitespace", "   \t", en, CommandNone},
		{"stop", "Stop", en, CommandStop},
		{"exit inside sentence", "please exit now", en, CommandStop},
		{"skip", "skip", en, CommandSkip},
		{"next", " Next ", en, CommandSkip},
		{"stop beats number", "stop 42", en, CommandStop},
		{"stop beats skip", "skip and stop", en, CommandStop},
		{"value", "42", en, CommandValue},
		{"russian stop", "Хватит", ru, CommandStop},
		{"russian skip", "дальше пожалуйста", ru, CommandSkip},
		{"russian value", "двенадцать", ru, CommandValue},
		{"english word under russian set", "stop", ru, CommandValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, _ := Classify(tt.text, tt.set); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
