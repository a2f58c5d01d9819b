package shared

import (
	"errors"
	"testing"
)

func TestValidationError_Message(t *testing.T) {
	var err error = &ValidationError{Field: "project_id"}
	if err.Error() != "project_id is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "project_id" {
		t.Fatalf("expected ValidationError for project_id")
	}
	err = &ValidationError{Field: "action", Reason: "unknown action \"jump\""}
	if err.Error() != `invalid action: unknown action "jump"` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"hello", 0, ""},
		{"héllo", 2, "h"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
