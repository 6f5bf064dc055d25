package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vishvananda/netlink"

	"portguard/filter"
	"portguard/fwebpf"
)

// PacketState is the enforced packet filter configuration.
type PacketState struct {
	Loaded bool   `yaml:"loaded"`
	Port   uint16 `yaml:"port"`
}

// SocketState is the enforced socket filter configuration.
type SocketState struct {
	Loaded      bool   `yaml:"loaded"`
	Process     string `yaml:"process"`
	AllowedPort uint16 `yaml:"allowed_port"`
}

// State is a snapshot of what the kernel enforces.
type State struct {
	Attachments []string    `yaml:"attachments"`
	Packet      PacketState `yaml:"packet"`
	Socket      SocketState `yaml:"socket"`
}

// Snapshot builds a State from the two readers. A nil reader means the
// filter is not loaded.
func Snapshot(ports filter.PortRuleReader, procs filter.ProcessRuleReader, attachments []string) State {
	st := State{Attachments: attachments}
	sort.Strings(st.Attachments)
	if ports != nil {
		if r, ok := ports.Load(); ok {
			st.Packet = PacketState{Loaded: true, Port: r.Port}
		}
	}
	if procs != nil {
		if r, ok := procs.Load(); ok {
			st.Socket = SocketState{Loaded: true, Process: r.Name(), AllowedPort: r.AllowedPort}
		}
	}
	return st
}

// ReadState reads the pinned maps under pinDir.
func ReadState(pinDir string) (State, error) {
	attachments, err := fwebpf.Attachments(pinDir)
	if err != nil {
		return State{}, fmt.Errorf("listing attachments: %w", err)
	}

	var (
		ports filter.PortRuleReader
		procs filter.ProcessRuleReader
	)
	pm, err := openPortMap(pinDir, attachments)
	switch {
	case err == nil:
		defer pm.Close()
		ports = pm
	case !errors.Is(err, fwebpf.ErrNotLoaded):
		return State{}, err
	}
	sm, err := openProcessMap(pinDir, attachments)
	switch {
	case err == nil:
		defer sm.Close()
		procs = sm
	case !errors.Is(err, fwebpf.ErrNotLoaded):
		return State{}, err
	}
	return Snapshot(ports, procs, attachments), nil
}

// openPortMap opens the packet filter map only while an XDP program uses
// it. The map outlives the XDP program when the socket filter is attached.
func openPortMap(pinDir string, attachments []string) (*fwebpf.PortMap, error) {
	if !fwebpf.PacketAttached(attachments) {
		return nil, fwebpf.ErrNotLoaded
	}
	return fwebpf.OpenPortMap(pinDir)
}

func openProcessMap(pinDir string, attachments []string) (*fwebpf.ProcessMap, error) {
	if !fwebpf.SocketAttached(attachments) {
		return nil, fwebpf.ErrNotLoaded
	}
	return fwebpf.OpenProcessMap(pinDir)
}

// XDPStatus reports whether an XDP program is attached to iface and its id.
func XDPStatus(iface string) (bool, uint32, error) {
	l, err := netlink.LinkByName(iface)
	if err != nil {
		return false, 0, fmt.Errorf("getting interface %s: %w", iface, err)
	}
	xdp := l.Attrs().Xdp
	if xdp == nil || !xdp.Attached {
		return false, 0, nil
	}
	return true, xdp.ProgId, nil
}
