package chat

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusRead, true},
		{StatusPending, StatusDelivered, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusSent, StatusSent, false},
		{StatusPending, StatusFailed, true},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusFailed, false},
		{StatusDelivered, StatusFailed, false},
		{StatusFailed, StatusSending, false},
		{StatusFailed, StatusRead, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s,%s)=%v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransitionUnknownStatus(t *testing.T) {
	if CanTransition("bogus", StatusSent) {
		t.Fatal("unknown source status must not transition")
	}
	if CanTransition(StatusSent, "bogus") {
		t.Fatal("unknown target status must not transition")
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed} {
		if !ValidStatus(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	if ValidStatus("queued") {
		t.Fatal("queued is not a known status")
	}
}
