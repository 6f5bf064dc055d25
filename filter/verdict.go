package filter

import (
	"errors"
	"fmt"
)

// Errors reported while building the inputs of a decision. None of them is
// ever surfaced to a hook: they all resolve to Allow.
var (
	// ErrTruncated means the buffer is shorter than the fixed header prefix.
	ErrTruncated = errors.New("buffer shorter than header prefix")
	// ErrNotApplicable means the event is outside the filter's concern.
	ErrNotApplicable = errors.New("not a TCP packet")
	// ErrConfigAbsent means no configuration record has been written yet.
	ErrConfigAbsent = errors.New("no configuration written")
)

// Action is the binary outcome of one filter invocation.
type Action uint8

const (
	Allow Action = 0
	Drop  Action = 1
)

func (a Action) String() string {
	switch a {
	case Allow:
		return "ALLOW"
	case Drop:
		return "DROP"
	default:
		return fmt.Sprintf("unknown(%d)", a)
	}
}

// Reason records why a verdict was reached.
type Reason uint8

const (
	ReasonNoRule Reason = iota
	ReasonTruncated
	ReasonNotApplicable
	ReasonRuleNotApplicable
	ReasonNoMatch
	ReasonPortMatch
	ReasonPortAllowed
	ReasonEphemeralBind
	ReasonPortNotAllowed
)

var reasonNames = [...]string{
	ReasonNoRule:            "no rule configured",
	ReasonTruncated:         "truncated",
	ReasonNotApplicable:     "not applicable",
	ReasonRuleNotApplicable: "rule does not apply",
	ReasonNoMatch:           "no port match",
	ReasonPortMatch:         "port match",
	ReasonPortAllowed:       "allowed port",
	ReasonEphemeralBind:     "ephemeral bind",
	ReasonPortNotAllowed:    "port not allowed",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", r)
}

// reasonFor maps a parse or lookup error onto its Allow reason.
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrTruncated):
		return ReasonTruncated
	case errors.Is(err, ErrNotApplicable):
		return ReasonNotApplicable
	default:
		return ReasonNoRule
	}
}

// Verdict is produced fresh per invocation. Port is the port the decision
// was about, in host byte order, and is zero when no port was examined.
type Verdict struct {
	Action Action
	Reason Reason
	Port   uint16
}

func allow(r Reason, port uint16) Verdict { return Verdict{Action: Allow, Reason: r, Port: port} }
func drop(r Reason, port uint16) Verdict  { return Verdict{Action: Drop, Reason: r, Port: port} }

// Dropped reports whether the verdict blocks the event.
func (v Verdict) Dropped() bool { return v.Action == Drop }

// String renders the diagnostic line. It is only called off the decision path.
func (v Verdict) String() string {
	if v.Port == 0 && v.Action == Allow {
		return fmt.Sprintf("%s (%s)", v.Action, v.Reason)
	}
	return fmt.Sprintf("%s port %d (%s)", v.Action, v.Port, v.Reason)
}
