package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"portguard/filter"
)

func tcpView(src, dst uint16) filter.HeaderView {
	return filter.HeaderView{
		IPProtocol:    filter.IPProtoTCP,
		TCPSourcePort: filter.Htons(src),
		TCPDestPort:   filter.Htons(dst),
	}
}

var samplePorts = []uint16{0, 1, 22, 80, 443, 8080, 0x0100, 0x00ff, 65535}

func TestDecidePacketZeroRuleAllowsEverything(t *testing.T) {
	for _, src := range samplePorts {
		for _, dst := range samplePorts {
			v := filter.DecidePacket(tcpView(src, dst), filter.PortRule{})
			assert.Equal(t, filter.Allow, v.Action, "src=%d dst=%d", src, dst)
			assert.Equal(t, filter.ReasonNoRule, v.Reason)
		}
	}
}

func TestDecidePacketNonTCPAllowed(t *testing.T) {
	for _, proto := range []uint8{0, 1, 17, 58, 132, 255} {
		h := tcpView(8080, 8080)
		h.IPProtocol = proto
		v := filter.DecidePacket(h, filter.PortRule{Port: 8080})
		assert.Equal(t, filter.Allow, v.Action, "proto %d", proto)
		assert.Equal(t, filter.ReasonNotApplicable, v.Reason)
	}
}

func TestDecidePacketMatchesEitherPort(t *testing.T) {
	for _, port := range samplePorts[1:] {
		rule := filter.PortRule{Port: port}

		v := filter.DecidePacket(tcpView(port, 1), rule)
		assert.Equal(t, filter.Drop, v.Action, "source %d", port)
		assert.Equal(t, port, v.Port)

		v = filter.DecidePacket(tcpView(1, port), rule)
		assert.Equal(t, filter.Drop, v.Action, "dest %d", port)
		assert.Equal(t, filter.ReasonPortMatch, v.Reason)
	}
}

// Ports whose bytes are swapped must not match: the configured port is
// compared in wire order.
func TestDecidePacketByteOrder(t *testing.T) {
	rule := filter.PortRule{Port: 0x1f90} // 8080
	v := filter.DecidePacket(tcpView(0x901f, 0x901f), rule)
	assert.Equal(t, filter.Allow, v.Action)
	assert.Equal(t, filter.ReasonNoMatch, v.Reason)
}

func TestDecidePacketScenarioA(t *testing.T) {
	rule := filter.PortRule{Port: 8080}
	assert.Equal(t, filter.Drop, filter.DecidePacket(tcpView(51000, 8080), rule).Action)
	assert.Equal(t, filter.Allow, filter.DecidePacket(tcpView(51000, 80), rule).Action)
}

func TestDecidePacketIdempotent(t *testing.T) {
	rule := filter.PortRule{Port: 443}
	h := tcpView(443, 50000)
	first := filter.DecidePacket(h, rule)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, filter.DecidePacket(h, rule))
	}
}

func attempt(name string, port uint16, op filter.Operation) filter.ConnectionAttempt {
	return filter.ConnectionAttempt{Comm: filter.Comm(name), TargetPort: port, Operation: op}
}

func curlRule(t *testing.T) filter.ProcessPortRule {
	r, err := filter.NewProcessPortRule("curl", 443)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDecideSocketEmptyRuleAllows(t *testing.T) {
	rule := filter.ProcessPortRule{AllowedPort: 443}
	for _, op := range []filter.Operation{filter.OpConnect, filter.OpBind} {
		for _, port := range samplePorts {
			for _, name := range []string{"", "curl", "wget"} {
				v := filter.DecideSocket(attempt(name, port, op), rule)
				assert.Equal(t, filter.Allow, v.Action)
				assert.Equal(t, filter.ReasonNoRule, v.Reason)
			}
		}
	}
}

func TestDecideSocketScenarioB(t *testing.T) {
	rule := curlRule(t)

	v := filter.DecideSocket(attempt("curl", 80, filter.OpConnect), rule)
	assert.Equal(t, filter.Drop, v.Action)
	assert.Equal(t, filter.ReasonPortNotAllowed, v.Reason)
	assert.Equal(t, uint16(80), v.Port)

	v = filter.DecideSocket(attempt("curl", 443, filter.OpConnect), rule)
	assert.Equal(t, filter.Allow, v.Action)
	assert.Equal(t, filter.ReasonPortAllowed, v.Reason)

	v = filter.DecideSocket(attempt("wget", 80, filter.OpConnect), rule)
	assert.Equal(t, filter.Allow, v.Action)
	assert.Equal(t, filter.ReasonRuleNotApplicable, v.Reason)
}

func TestDecideSocketScenarioC(t *testing.T) {
	rule := curlRule(t)

	v := filter.DecideSocket(attempt("curl", 0, filter.OpBind), rule)
	assert.Equal(t, filter.Allow, v.Action)
	assert.Equal(t, filter.ReasonEphemeralBind, v.Reason)

	assert.Equal(t, filter.Drop, filter.DecideSocket(attempt("curl", 9999, filter.OpBind), rule).Action)
	assert.Equal(t, filter.Allow, filter.DecideSocket(attempt("curl", 443, filter.OpBind), rule).Action)
}

func TestDecideSocketEphemeralBindAnyAllowedPort(t *testing.T) {
	for _, allowed := range samplePorts {
		rule, err := filter.NewProcessPortRule("nginx", allowed)
		assert.NoError(t, err)
		v := filter.DecideSocket(attempt("nginx", 0, filter.OpBind), rule)
		assert.Equal(t, filter.Allow, v.Action, "allowed=%d", allowed)
	}
}

// Connecting to port 0 gets no special treatment.
func TestDecideSocketConnectPortZero(t *testing.T) {
	v := filter.DecideSocket(attempt("curl", 0, filter.OpConnect), curlRule(t))
	assert.Equal(t, filter.Drop, v.Action)
}
