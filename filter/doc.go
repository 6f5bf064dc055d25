// Package filter implements the decision logic shared by the packet-path and
// socket-path port filters.
//
// # Packet path
//
// PacketHook inspects a received frame, parses the fixed Ethernet/IPv4/TCP
// prefix with ParseHeader and drops the frame when its TCP source or
// destination port equals the configured PortRule.
//
// # Socket path
//
// SockAddrHook intercepts connect and bind for IPv4 and IPv6 and, for the one
// process named in the ProcessPortRule, rejects any port other than the
// allowed one. Binding to port 0 is always permitted.
//
// # Configuration
//
// Both filters read a single-slot record through PortRuleReader or
// ProcessRuleReader exactly once per invocation and hand the snapshot to the
// pure functions DecidePacket and DecideSocket. Every failure mode (short
// frame, non-TCP frame, absent or empty rule) resolves to Allow.
//
// The same decisions are compiled into eBPF programs by package fwebpf; the
// code here is what the control plane uses for dry runs and what the tests
// check the kernel programs against.
package filter
