package payments

import "strings"

// Status is the gateway-reported state of a payment.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// progress orders the non-absorbing states.
var progress = map[Status]int{
	StatusWaiting:    0,
	StatusConfirming: 1,
	StatusConfirmed:  2,
	StatusFinished:   3,
}

// ParseStatus normalizes a gateway status. Statuses outside the tracked set
// (sending, partially_paid, refunded, ...) yield ErrUnknownStatus.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}

// Valid reports whether s is one of the tracked statuses.
func (s Status) Valid() bool {
	if _, ok := progress[s]; ok {
		return true
	}
	return s == StatusFailed || s == StatusExpired
}

// Confirmed reports whether the status grants course access.
func (s Status) Confirmed() bool {
	return s == StatusConfirmed || s == StatusFinished
}

// Terminal reports whether no further transition is accepted.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusExpired
}

// CanTransition applies the forward-only rule: progress only moves forward,
// failed and expired are absorbing and can only be entered before the
// payment has been confirmed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to || from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusExpired {
		return !from.Confirmed()
	}
	return progress[to] > progress[from]
}
