package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	got := String()
	if !strings.HasPrefix(got, "scratchwatch "+Version+"\n") {
		t.Fatalf("unexpected version line: %q", got)
	}
	if !strings.Contains(got, "commit: "+Commit) {
		t.Fatalf("missing commit: %q", got)
	}
}
