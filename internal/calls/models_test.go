package calls

import (
	"errors"
	"fmt"
	"testing"
)

func TestCall_Counterpart(t *testing.T) {
	c := Call{CallerID: "1", ReceiverID: "2"}
	if c.Counterpart("1") != "2" || c.Counterpart("2") != "1" {
		t.Fatalf("unexpected counterpart")
	}
	if c.Counterpart("3") != "" || c.IsParticipant("3") || c.IsParticipant("") {
		t.Fatalf("stranger must not be a participant")
	}
}

func TestPage_Normalize(t *testing.T) {
	cases := []struct {
		in, want Page
	}{
		{Page{}, Page{Page: 1, PerPage: DefaultPerPage}},
		{Page{Page: -3, PerPage: 5}, Page{Page: 1, PerPage: 5}},
		{Page{Page: 2, PerPage: 1000}, Page{Page: 2, PerPage: MaxPerPage}},
	}
	for _, tc := range cases {
		if got := tc.in.Normalize(); got != tc.want {
			t.Fatalf("normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
	if off := (Page{Page: 3, PerPage: 20}).Offset(); off != 40 {
		t.Fatalf("expected offset 40, got %d", off)
	}
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		nil:                                       "",
		ErrInvalidParticipants:                    "invalid_participants",
		fmt.Errorf("receiver 9: %w", ErrNotFound): "not_found",
		ErrUnauthorized:                           "unauthorized",
		ErrInvalidTransition:                      "invalid_transition",
		ErrConflict:                               "conflict",
		ErrCouldNotAllocateRoom:                   "could_not_allocate_room",
		ErrInvalidArgument:                        "invalid_request",
		errors.New("disk on fire"):                "internal",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
