package flow

import (
	"errors"
	"time"
)

// Broadcast states.
const (
	Proposed  = "PROPOSED"
	Confirmed = "CONFIRMED"
	Cancelled = "CANCELLED"
	Expired   = "EXPIRED"
)

// Verification states. Started is entered when the checklist is shown; anything the user
// does outside the chat is unobserved.
const (
	VerifyStarted             = "STARTED"
	VerifyCompletionRequested = "COMPLETION_REQUESTED"
	VerifyCompleted           = "COMPLETED"
)

var ErrInvalidTransition = errors.New("invalid flow transition")

type Event string

const (
	EventConfirm          Event = "CONFIRM"
	EventCancel           Event = "CANCEL"
	EventExpire           Event = "EXPIRE"
	EventRequestComplete  Event = "REQUEST_COMPLETION"
	EventCompleteVerified Event = "COMPLETE"
)

func CanTransition(from, to string) bool {
	switch from {
	case Proposed:
		return to == Confirmed || to == Cancelled || to == Expired
	case VerifyStarted:
		return to == VerifyCompletionRequested
	case VerifyCompletionRequested:
		return to == VerifyCompleted
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func Next(from string, event Event) (string, error) {
	switch event {
	case EventConfirm:
		return Transition(from, Confirmed)
	case EventCancel:
		return Transition(from, Cancelled)
	case EventExpire:
		return Transition(from, Expired)
	case EventRequestComplete:
		return Transition(from, VerifyCompletionRequested)
	case EventCompleteVerified:
		return Transition(from, VerifyCompleted)
	default:
		return from, ErrInvalidTransition
	}
}

func IsTerminal(state string) bool {
	switch state {
	case Confirmed, Cancelled, Expired, VerifyCompleted:
		return true
	default:
		return false
	}
}

func IsExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.UTC().After(expiresAt.UTC())
}
