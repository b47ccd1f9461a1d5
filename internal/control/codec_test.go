package control

import (
	"bytes"
	"strings"
	"testing"
)

func TestEscapeData(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ".\r\n"},
		{"BarePeriodLine", ".", "..\r\n.\r\n"},
		{"LoneLF", "a\nb", "a\r\nb\r\n.\r\n"},
		{"AlreadyCRLF", "a\r\nb\r\n", "a\r\nb\r\n.\r\n"},
		{"TrailingLF", "hello\n", "hello\r\n.\r\n"},
		{"NoTrailingNewline", "hello", "hello\r\n.\r\n"},
		{"PeriodMidLine", "a.b", "a.b\r\n.\r\n"},
		{"PeriodAfterNewline", "a\n.b", "a\r\n..b\r\n.\r\n"},
		{"PeriodOnlyLines", ".\n.", "..\r\n..\r\n.\r\n"},
		{"SingleByte", "x", "x\r\n.\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EscapeData([]byte(tt.in))
			if string(got) != tt.want {
				t.Errorf("EscapeData(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnescapeData(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Empty", "", ""},
		{"StuffedPeriod", "..\r\n", ".\n"},
		{"TwoLines", "a\r\nb\r\n", "a\nb\n"},
		{"BareLF", "a\nb\n", "a\nb\n"},
		{"NoFinalNewline", "a\r\nb", "a\nb"},
		{"LeadingPeriodStrippedOncePerLine", "..a\r\n.b\r\n", ".a\nb\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnescapeData([]byte(tt.in))
			if string(got) != tt.want {
				t.Errorf("UnescapeData(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// stripTerminator removes the trailing ".\r\n" terminator line from an
// escaped block, as the framing layer would before unescaping.
func stripTerminator(t *testing.T, escaped []byte) []byte {
	t.Helper()
	if !bytes.HasSuffix(escaped, []byte(".\r\n")) {
		t.Fatalf("escaped block %q lacks terminator", escaped)
	}
	return escaped[:len(escaped)-3]
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	inputs := []string{
		"simple line",
		"two\nlines",
		"trailing newline\n",
		".leading period",
		".\n..\n...",
		"mixed\r\nendings\nhere",
		"",
		"a",
	}

	for _, in := range inputs {
		escaped := EscapeData([]byte(in))
		got := UnescapeData(stripTerminator(t, escaped))

		// Escaping normalizes line endings to CRLF and guarantees a
		// final newline; apply the same normalization to the input
		// before comparing.
		want := strings.ReplaceAll(in, "\r\n", "\n")
		if want != "" && !strings.HasSuffix(want, "\n") {
			want += "\n"
		}
		if string(got) != want {
			t.Errorf("round trip of %q: got %q, want %q", in, got, want)
		}
	}
}

func TestQuotedStringLength(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantLen   int
		wantChars int
		wantOK    bool
	}{
		{"Simple", `"ab"`, 4, 2, true},
		{"EscapedQuote", `"ab\"cd"`, 8, 5, true},
		{"EscapedBackslash", `"a\\b"`, 6, 3, true},
		{"Empty", `""`, 2, 0, true},
		{"TrailingData", `"ab" rest`, 4, 2, true},
		{"NoOpenQuote", `ab"`, 0, 0, false},
		{"Unterminated", `"ab`, 0, 0, false},
		{"DanglingEscape", `"ab\`, 0, 0, false},
		{"EmptyInput", ``, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			length, chars, ok := quotedStringLength([]byte(tt.in))
			if ok != tt.wantOK {
				t.Fatalf("quotedStringLength(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if length != tt.wantLen || chars != tt.wantChars {
				t.Errorf("quotedStringLength(%q) = (%d, %d), want (%d, %d)",
					tt.in, length, chars, tt.wantLen, tt.wantChars)
			}
		})
	}
}

func TestExtractQuotedString(t *testing.T) {
	raw, rest, err := ExtractQuotedString([]byte(`"ab\"cd" tail`))
	if err != nil {
		t.Fatalf("ExtractQuotedString: %v", err)
	}
	if string(raw) != `"ab\"cd"` {
		t.Errorf("raw = %q, want %q", raw, `"ab\"cd"`)
	}
	if string(rest) != " tail" {
		t.Errorf("rest = %q, want %q", rest, " tail")
	}

	if _, _, err := ExtractQuotedString([]byte(`"ab`)); err == nil {
		t.Error("expected error for unterminated quoted string")
	}
}

func TestDecodeQuotedString(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		wantRest string
	}{
		{"Simple", `"ab"`, "ab", ""},
		{"EscapedQuote", `"ab\"cd"`, `ab"cd`, ""},
		{"EscapeIsLiteral", `"a\nb"`, "anb", ""}, // no named escapes
		{"Empty", `""`, "", ""},
		{"Rest", `"x" y`, "x", " y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, rest, err := DecodeQuotedString([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeQuotedString(%q): %v", tt.in, err)
			}
			if string(decoded) != tt.want {
				t.Errorf("decoded = %q, want %q", decoded, tt.want)
			}
			if string(rest) != tt.wantRest {
				t.Errorf("rest = %q, want %q", rest, tt.wantRest)
			}
		})
	}

	for _, bad := range []string{`"ab`, `"ab\`, `ab"`, ``} {
		if _, _, err := DecodeQuotedString([]byte(bad)); err == nil {
			t.Errorf("DecodeQuotedString(%q): expected error", bad)
		}
	}
}
