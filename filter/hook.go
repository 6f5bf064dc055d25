package filter

// XDP return codes.
const (
	XDPDrop uint32 = 1
	XDPPass uint32 = 2
)

// cgroup sock_addr return codes.
const (
	SockAddrReject int32 = 0
	SockAddrPermit int32 = 1
)

// XDPAction translates a verdict into an XDP return code.
func XDPAction(v Verdict) uint32 {
	if v.Dropped() {
		return XDPDrop
	}
	return XDPPass
}

// SockAddrAction translates a verdict into a sock_addr return code.
func SockAddrAction(v Verdict) int32 {
	if v.Dropped() {
		return SockAddrReject
	}
	return SockAddrPermit
}

// PacketHook adapts the receive path. Rules is read once per frame.
type PacketHook struct {
	Rules  PortRuleReader
	Tracer Tracer
}

// Decide parses frame and decides against the current rule snapshot.
func (h *PacketHook) Decide(frame []byte) Verdict {
	hdr, err := ParseHeader(frame)
	if err != nil {
		return allow(reasonFor(err), 0)
	}
	rule, ok := h.Rules.Load()
	if !ok {
		return allow(reasonFor(ErrConfigAbsent), 0)
	}
	v := DecidePacket(hdr, rule)
	if v.Dropped() && h.Tracer != nil {
		h.Tracer.Trace(Event{Hook: HookXDP, Action: Drop, Port: v.Port})
	}
	return v
}

// Handle returns the XDP code for frame.
func (h *PacketHook) Handle(frame []byte) uint32 {
	return XDPAction(h.Decide(frame))
}

// SockAddr is the part of a sock_addr hook context the socket filter uses.
// UserPort is the raw 32-bit field as the kernel presents it: the wire-order
// port zero-extended. Comm and PID describe the calling task.
type SockAddr struct {
	UserPort uint32
	Comm     [MaxNameLen]byte
	PID      uint32
}

// UserPortHost extracts the host-order port from a raw user_port value. Only
// the low 16 bits are meaningful.
func UserPortHost(raw uint32) uint16 {
	return NetPort(uint16(raw)).Host()
}

// UserPortRaw is the inverse of UserPortHost.
func UserPortRaw(port uint16) uint32 {
	return uint32(Htons(port))
}

// SockAddrHook adapts one of the four socket hooks. IPv4 and IPv6 hooks of
// the same operation behave identically.
type SockAddrHook struct {
	Hook   Hook
	Rules  ProcessRuleReader
	Tracer Tracer
}

// Decide evaluates ctx against the current rule snapshot.
func (h *SockAddrHook) Decide(ctx *SockAddr) Verdict {
	rule, ok := h.Rules.Load()
	if !ok {
		return allow(reasonFor(ErrConfigAbsent), 0)
	}
	v := DecideSocket(ConnectionAttempt{
		Comm:       ctx.Comm,
		TargetPort: UserPortHost(ctx.UserPort),
		Operation:  h.Hook.Operation(),
	}, rule)
	if v.Dropped() && h.Tracer != nil {
		h.Tracer.Trace(Event{Hook: h.Hook, Action: Drop, Port: v.Port, PID: ctx.PID, Comm: ctx.Comm})
	}
	return v
}

// Handle returns the sock_addr code for ctx.
func (h *SockAddrHook) Handle(ctx *SockAddr) int32 {
	return SockAddrAction(h.Decide(ctx))
}
