package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	first := NewAt(time.Unix(1_700_000_000, 0))
	second := NewAt(time.Unix(1_700_000_001, 0))
	if !Valid(first) || !Valid(second) {
		t.Fatalf("generated ids should be valid: %s %s", first, second)
	}
	if first >= second {
		t.Fatalf("expected %s < %s", first, second)
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not-an-id", "01ARZ3NDEKTSV4RRFFQ69G5FA", "'; drop table superadmins;--"} {
		if Valid(in) {
			t.Fatalf("expected %q to be invalid", in)
		}
	}
}
