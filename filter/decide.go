package filter

import "fmt"

// Operation is the socket call being filtered.
type Operation uint8

const (
	OpConnect Operation = iota
	OpBind
)

func (o Operation) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpBind:
		return "bind"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// ConnectionAttempt describes one connect or bind. TargetPort is in host
// byte order.
type ConnectionAttempt struct {
	Comm       [MaxNameLen]byte
	TargetPort uint16
	Operation  Operation
}

// DecidePacket drops a TCP frame whose source or destination port equals the
// configured port. The configured port is converted to wire order before
// the comparison.
func DecidePacket(h HeaderView, rule PortRule) Verdict {
	if h.IPProtocol != IPProtoTCP {
		return allow(ReasonNotApplicable, 0)
	}
	if !rule.Enabled() {
		return allow(ReasonNoRule, 0)
	}
	want := Htons(rule.Port)
	if h.TCPSourcePort == want || h.TCPDestPort == want {
		return drop(ReasonPortMatch, rule.Port)
	}
	return allow(ReasonNoMatch, 0)
}

// DecideSocket restricts the process named in rule to its allowed port. An
// empty rule, or a rule for another process, allows everything.
func DecideSocket(a ConnectionAttempt, rule ProcessPortRule) Verdict {
	if !rule.Enabled() {
		return allow(ReasonNoRule, a.TargetPort)
	}
	if !CommEqual(&a.Comm, &rule.ProcessName) {
		return allow(ReasonRuleNotApplicable, a.TargetPort)
	}
	if a.TargetPort == rule.AllowedPort {
		return allow(ReasonPortAllowed, a.TargetPort)
	}
	if a.Operation == OpBind && a.TargetPort == 0 {
		return allow(ReasonEphemeralBind, 0)
	}
	return drop(ReasonPortNotAllowed, a.TargetPort)
}
