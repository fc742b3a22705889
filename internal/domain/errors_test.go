package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnrecoverable(t *testing.T) {
	if Unrecoverable(nil) != nil {
		t.Fatal("Unrecoverable(nil) must stay nil")
	}

	base := errors.New("handler timeout after 120000ms for submit-order")
	err := Unrecoverable(base)
	if !IsUnrecoverable(err) {
		t.Fatal("wrapped error not recognised")
	}
	if err.Error() != base.Error() {
		t.Errorf("message changed: %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap chain broken")
	}
}

func TestIsUnrecoverableThroughWrapping(t *testing.T) {
	err := fmt.Errorf("op=processor.execute: %w", Unrecoverable(errors.New("unknown kind")))
	if !IsUnrecoverable(err) {
		t.Error("marker lost through fmt.Errorf wrapping")
	}
	if IsUnrecoverable(errors.New("plain")) {
		t.Error("plain error misreported as unrecoverable")
	}
	if IsUnrecoverable(nil) {
		t.Error("nil misreported as unrecoverable")
	}
}
