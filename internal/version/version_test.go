package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	s := String("tally")
	if !strings.HasPrefix(s, "tally "+Version) || !strings.Contains(s, GitCommit) {
		t.Errorf("String = %q", s)
	}
}
