package domain

// RecipientStatus is the per-recipient delivery state.
type RecipientStatus string

const (
	RecipientQueued    RecipientStatus = "queued"
	RecipientSent      RecipientStatus = "sent"
	RecipientDelivered RecipientStatus = "delivered"
	RecipientSeen      RecipientStatus = "seen"
	RecipientFailed    RecipientStatus = "failed"
)

// statusRank orders the forward delivery progression. Failed is not ranked;
// it is terminal and reachable from any state.
var statusRank = map[RecipientStatus]int{
	RecipientQueued:    0,
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientSeen:      3,
}

// CanTransition reports whether a recipient may move from cur to next.
// Transitions only move forward along queued -> sent -> delivered -> seen;
// failed is always accepted. A late or duplicate event that would move the
// recipient backward is rejected.
func CanTransition(cur, next RecipientStatus) bool {
	if next == RecipientFailed {
		return true
	}
	curRank, ok := statusRank[cur]
	if !ok {
		// cur is failed (terminal) or unknown; only failed may be re-applied.
		return false
	}
	nextRank, ok := statusRank[next]
	if !ok {
		return false
	}
	return nextRank > curRank
}

// ParseProviderStatus maps the provider's status vocabulary onto ours.
// Unknown values return ok=false and are ignored by the reconciler.
func ParseProviderStatus(s string) (RecipientStatus, bool) {
	switch s {
	case "sent":
		return RecipientSent, true
	case "delivered":
		return RecipientDelivered, true
	case "read":
		return RecipientSeen, true
	case "failed":
		return RecipientFailed, true
	}
	return "", false
}

// MessageStatus is the engine-owned broadcast lifecycle.
type MessageStatus string

const (
	MessageQueued     MessageStatus = "queued"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)
