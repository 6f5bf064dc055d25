package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portguard/filter"
	"portguard/filter/filtertest"
)

func TestUserPortConversion(t *testing.T) {
	for _, port := range samplePorts {
		raw := filter.UserPortRaw(port)
		assert.Equal(t, port, filter.UserPortHost(raw))
	}
}

func TestPacketHookNoConfig(t *testing.T) {
	h := &filter.PacketHook{Rules: new(filter.PortCell)}
	assert.Equal(t, filter.XDPPass, h.Handle(filtertest.TCPFrame(t, 1, 8080)))
	assert.Equal(t, filter.ReasonNoRule, h.Decide(filtertest.TCPFrame(t, 1, 8080)).Reason)
}

func TestPacketHookScenarioA(t *testing.T) {
	cell := new(filter.PortCell)
	cell.Store(filter.PortRule{Port: 8080})
	tracer := filter.NewChanTracer(4)
	h := &filter.PacketHook{Rules: cell, Tracer: tracer}

	assert.Equal(t, filter.XDPDrop, h.Handle(filtertest.TCPFrame(t, 50000, 8080)))
	assert.Equal(t, filter.XDPDrop, h.Handle(filtertest.TCPFrame(t, 8080, 50000)))
	assert.Equal(t, filter.XDPPass, h.Handle(filtertest.TCPFrame(t, 50000, 80)))
	assert.Equal(t, filter.XDPPass, h.Handle(filtertest.UDPFrame(t, 8080, 8080)))

	require.Len(t, tracer.C, 2)
	ev := <-tracer.C
	assert.Equal(t, filter.HookXDP, ev.Hook)
	assert.Equal(t, uint16(8080), ev.Port)
	assert.Equal(t, "XDP: Dropping TCP packet on port 8080", ev.String())
}

func TestPacketHookTruncatedNeverDrops(t *testing.T) {
	cell := new(filter.PortCell)
	cell.Store(filter.PortRule{Port: 8080})
	h := &filter.PacketHook{Rules: cell}

	frame := filtertest.TCPFrame(t, 8080, 8080)
	for n := 0; n < filter.HeaderPrefixLen; n++ {
		v := h.Decide(frame[:n])
		assert.Equal(t, filter.Allow, v.Action, "len %d", n)
		assert.Equal(t, filter.ReasonTruncated, v.Reason)
	}
	assert.Equal(t, filter.XDPDrop, h.Handle(frame[:filter.HeaderPrefixLen]))
}

func TestPacketHookFollowsCellUpdates(t *testing.T) {
	cell := new(filter.PortCell)
	h := &filter.PacketHook{Rules: cell}
	frame := filtertest.TCPFrame(t, 1234, 22)

	assert.Equal(t, filter.XDPPass, h.Handle(frame))
	cell.Store(filter.PortRule{Port: 22})
	assert.Equal(t, filter.XDPDrop, h.Handle(frame))
	cell.Store(filter.PortRule{})
	assert.Equal(t, filter.XDPPass, h.Handle(frame))
}

func sockCtx(name string, port uint16) *filter.SockAddr {
	return &filter.SockAddr{UserPort: filter.UserPortRaw(port), Comm: filter.Comm(name), PID: 4242}
}

func TestSockAddrHooks(t *testing.T) {
	cell := new(filter.ProcessCell)
	rule, err := filter.NewProcessPortRule("curl", 443)
	require.NoError(t, err)
	cell.Store(rule)

	tests := []struct {
		hook filter.Hook
		name string
		port uint16
		want int32
	}{
		{filter.HookConnect4, "curl", 80, filter.SockAddrReject},
		{filter.HookConnect6, "curl", 80, filter.SockAddrReject},
		{filter.HookConnect4, "curl", 443, filter.SockAddrPermit},
		{filter.HookConnect6, "curl", 443, filter.SockAddrPermit},
		{filter.HookConnect4, "wget", 80, filter.SockAddrPermit},
		{filter.HookBind4, "curl", 0, filter.SockAddrPermit},
		{filter.HookBind6, "curl", 0, filter.SockAddrPermit},
		{filter.HookBind4, "curl", 9999, filter.SockAddrReject},
		{filter.HookBind6, "curl", 9999, filter.SockAddrReject},
		{filter.HookBind6, "wget", 9999, filter.SockAddrPermit},
	}
	for _, tt := range tests {
		h := &filter.SockAddrHook{Hook: tt.hook, Rules: cell}
		assert.Equal(t, tt.want, h.Handle(sockCtx(tt.name, tt.port)), "%s %s:%d", tt.hook, tt.name, tt.port)
	}
}

func TestSockAddrHookNoConfig(t *testing.T) {
	h := &filter.SockAddrHook{Hook: filter.HookConnect4, Rules: new(filter.ProcessCell)}
	assert.Equal(t, filter.SockAddrPermit, h.Handle(sockCtx("curl", 80)))
}

func TestSockAddrHookTracesDrop(t *testing.T) {
	cell := new(filter.ProcessCell)
	rule, _ := filter.NewProcessPortRule("curl", 443)
	cell.Store(rule)
	tracer := filter.NewChanTracer(1)
	h := &filter.SockAddrHook{Hook: filter.HookBind4, Rules: cell, Tracer: tracer}

	h.Handle(sockCtx("curl", 9999))
	h.Handle(sockCtx("curl", 9998))

	require.Len(t, tracer.C, 1)
	assert.Equal(t, uint64(1), tracer.Lost())
	ev := <-tracer.C
	assert.Equal(t, filter.HookBind4, ev.Hook)
	assert.Equal(t, uint16(9999), ev.Port)
	assert.Equal(t, uint32(4242), ev.PID)
	assert.Equal(t, "curl", ev.ProcessName())
	assert.Equal(t, "BLOCKING bind to port 9999 (comm=curl pid=4242)", ev.String())
}

func TestEventRecordRoundTrip(t *testing.T) {
	ev := filter.Event{Hook: filter.HookConnect6, Action: filter.Drop, Port: 80, PID: 7, Comm: filter.Comm("curl")}
	b, err := ev.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, filter.EventSize)
	assert.Equal(t, byte(filter.HookConnect6), b[0])
	assert.Equal(t, byte(filter.Drop), b[1])

	var back filter.Event
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, ev, back)
	assert.Error(t, back.UnmarshalBinary(b[:10]))
}

func TestHookOperation(t *testing.T) {
	assert.Equal(t, filter.OpConnect, filter.HookConnect4.Operation())
	assert.Equal(t, filter.OpConnect, filter.HookConnect6.Operation())
	assert.Equal(t, filter.OpBind, filter.HookBind4.Operation())
	assert.Equal(t, filter.OpBind, filter.HookBind6.Operation())
}
