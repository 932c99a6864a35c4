package markup

import "testing"

func TestEscapeForMarkdown(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain text", "plain text"},
		{"Attack on Titan: Final Season!", "Attack on Titan: Final Season\\!"},
		{"a_b*c", "a\\_b\\*c"},
		{"[x](y)", "\\[x\\]\\(y\\)"},
		{"1.5 - 2", "1\\.5 \\- 2"},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := EscapeForMarkdown(tt.input); got != tt.want {
			t.Errorf("EscapeForMarkdown(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEscapeLinkURL(t *testing.T) {
	got := EscapeLinkURL(`https://example.com/a_(b)\c`)
	want := `https://example.com/a_(b\)\\c`
	if got != want {
		t.Errorf("EscapeLinkURL = %q, want %q", got, want)
	}
}
