package guided

import (
	"testing"

	"github.com/MrWong99/voxtable/pkg/pipeline"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text     string
		expected pipeline.ExpectedType
		want     string
	}{
		{"12,5", pipeline.ExpectNumber, "12.5"},
		{"около двенадцати", pipeline.ExpectNumber, "около двенадцати"},
		{"  about 7 apples ", pipeline.ExpectNumber, "7"},
		{"minus -3.25 degrees", pipeline.ExpectNumber, "-3.25"},
		{"1 2 3", pipeline.ExpectNumber, "1"},
		{"seven", pipeline.ExpectNumber, "seven"},
		{"about, twelve", pipeline.ExpectNumber, "about. twelve"},
		{" a dozen,ish ", pipeline.ExpectNumber, "a dozen.ish"},
		{"5", pipeline.ExpectNumber, "5"},
		{"  12,5 kg ", pipeline.ExpectText, "12,5 kg"},
		{"", pipeline.ExpectNumber, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.text, tt.expected); got != tt.want {
				t.Errorf("Normalize(%q, %s) = %q, want %q", tt.text, tt.expected, got, tt.want)
			}
		})
	}
}
