package domain

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		cur, next RecipientStatus
		want      bool
	}{
		{RecipientQueued, RecipientSent, true},
		{RecipientQueued, RecipientDelivered, true},
		{RecipientQueued, RecipientSeen, true}, // forward jump allowed
		{RecipientSent, RecipientDelivered, true},
		{RecipientDelivered, RecipientSeen, true},
		{RecipientDelivered, RecipientSent, false}, // late "sent" after delivered
		{RecipientSeen, RecipientDelivered, false},
		{RecipientSent, RecipientSent, false}, // duplicate event
		{RecipientQueued, RecipientQueued, false},
		{RecipientQueued, RecipientFailed, true},
		{RecipientSeen, RecipientFailed, true}, // failed from any state
		{RecipientFailed, RecipientFailed, true},
		{RecipientFailed, RecipientSent, false}, // failed is terminal
		{RecipientFailed, RecipientSeen, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.cur, c.next); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.cur, c.next, got, c.want)
		}
	}
}

func TestParseProviderStatus(t *testing.T) {
	cases := []struct {
		in   string
		want RecipientStatus
		ok   bool
	}{
		{"sent", RecipientSent, true},
		{"delivered", RecipientDelivered, true},
		{"read", RecipientSeen, true},
		{"failed", RecipientFailed, true},
		{"warmup", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ParseProviderStatus(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseProviderStatus(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
