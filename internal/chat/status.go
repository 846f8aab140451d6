package chat

// Status is the delivery state of a Message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusRank orders the happy path. failed is absorbing and reachable only
// from pending and sending.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a message may move from one status to the
// next. Transitions are strictly forward: a late "sent" after "delivered"
// is rejected, and failed never transitions again.
func CanTransition(from, to Status) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusPending || from == StatusSending
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}
