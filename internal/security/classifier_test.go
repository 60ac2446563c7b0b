package security

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		cmd  string
		want Verdict
	}{
		{"ls -la", VerdictSafe},
		{"pwd", VerdictSafe},
		{"grep -r 'error text' /var/log", VerdictSafe},
		{"echo \"hello world\"", VerdictSafe},
		{"uptime", VerdictSafe},
		{"rm -rf /tmp/x", VerdictRisky},
		{"systemctl restart nginx", VerdictRisky},
		{"/bin/ls", VerdictRisky},
		{"'ls' -l", VerdictSafe},
		{"lsof -i", VerdictRisky},
	}

	for _, tt := range tests {
		got, err := c.Classify(tt.cmd)
		if err != nil {
			t.Errorf("Classify(%q) error: %v", tt.cmd, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestClassifyEmpty(t *testing.T) {
	c := NewClassifier(nil)
	for _, cmd := range []string{"", "   ", "\t\n"} {
		v, err := c.Classify(cmd)
		if v != VerdictEmpty {
			t.Errorf("Classify(%q) = %v, want EMPTY", cmd, v)
		}
		if !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("Classify(%q) error = %v, want ErrEmptyCommand", cmd, err)
		}
	}
}

func TestClassifyUnbalancedQuote(t *testing.T) {
	c := NewClassifier(nil)
	if _, err := c.Classify(`echo "unterminated`); err == nil {
		t.Error("expected tokenize error for unbalanced quote")
	}
}

func TestCustomAllowList(t *testing.T) {
	c := NewClassifier([]string{"kubectl", " "})
	if v, _ := c.Classify("kubectl get pods"); v != VerdictSafe {
		t.Errorf("expected kubectl to be safe, got %v", v)
	}
	if v, _ := c.Classify("ls"); v != VerdictRisky {
		t.Errorf("expected ls to be risky with custom list, got %v", v)
	}
	if len(c.Allowed()) != 1 {
		t.Errorf("expected blank entries to be dropped, got %v", c.Allowed())
	}
}

func TestTokenizeQuotes(t *testing.T) {
	tokens, err := Tokenize(`grep "two words" 'single quoted' plain`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []string{"grep", "two words", "single quoted", "plain"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %q, want %q", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestVerdictString(t *testing.T) {
	if VerdictSafe.String() != "SAFE" || VerdictRisky.String() != "RISKY" || VerdictEmpty.String() != "EMPTY" {
		t.Error("unexpected verdict names")
	}
}
