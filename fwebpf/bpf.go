package fwebpf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// PinDirName is the directory under bpffs holding every pinned map and link.
const PinDirName = "portguard"

const linkPrefix = "link_"

var (
	ErrAlreadyAttached = errors.New("filter already attached")
	ErrNotAttached     = errors.New("filter not attached")
	ErrNotLoaded       = errors.New("filter maps not pinned, attach a filter first")
)

// XDPMode selects how the packet filter is attached to the interface.
type XDPMode string

const (
	XDPGeneric XDPMode = "generic"
	XDPDriver  XDPMode = "driver"
	XDPOffload XDPMode = "offload"
)

// ParseXDPMode validates s. An empty string selects generic mode.
func ParseXDPMode(s string) (XDPMode, error) {
	switch m := XDPMode(strings.ToLower(s)); m {
	case "":
		return XDPGeneric, nil
	case XDPGeneric, XDPDriver, XDPOffload:
		return m, nil
	default:
		return "", fmt.Errorf("invalid XDP mode %q (want generic, driver or offload)", s)
	}
}

func (m XDPMode) linkFlags() link.XDPAttachFlags {
	switch m {
	case XDPDriver:
		return link.XDPDriverMode
	case XDPOffload:
		return link.XDPOffloadMode
	default:
		return link.XDPGenericMode
	}
}

// netlinkFlags never replaces a program that is already attached.
func (m XDPMode) netlinkFlags() int {
	switch m {
	case XDPDriver:
		return unix.XDP_FLAGS_DRV_MODE | unix.XDP_FLAGS_UPDATE_IF_NOEXIST
	case XDPOffload:
		return unix.XDP_FLAGS_HW_MODE | unix.XDP_FLAGS_UPDATE_IF_NOEXIST
	default:
		return unix.XDP_FLAGS_SKB_MODE | unix.XDP_FLAGS_UPDATE_IF_NOEXIST
	}
}

// PacketAttachment describes a successful AttachPacketFilter.
type PacketAttachment struct {
	Interface string
	Mode      XDPMode
	// Netlink is set when the kernel lacked XDP links and the program was
	// attached with a netlink request instead.
	Netlink bool
}

func packetLinkName(iface string) string { return linkPrefix + "xdp_" + iface }

func socketLinkName(prog string) string { return linkPrefix + prog }

// programPinName is used for programs attached without a link.
func programPinName(iface string) string { return "prog_xdp_" + iface }

func loadCollection(pinDir string, spec *ebpf.CollectionSpec) (*ebpf.Collection, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("failed to remove memlock limit: %w", err)
	}
	if err := os.MkdirAll(pinDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating BPF FS directory %s: %w", pinDir, err)
	}
	coll, err := ebpf.NewCollectionWithOptions(spec, ebpf.CollectionOptions{
		Maps: ebpf.MapOptions{PinPath: pinDir},
	})
	if err != nil {
		var verr *ebpf.VerifierError
		if errors.As(err, &verr) {
			return nil, fmt.Errorf("loading eBPF collection: %+v", verr)
		}
		return nil, fmt.Errorf("loading eBPF collection: %w", err)
	}
	return coll, nil
}

// AttachPacketFilter loads the XDP program and attaches it to iface. The
// link is pinned under pinDir so the filter outlives the process.
func AttachPacketFilter(pinDir, iface string, mode XDPMode) (PacketAttachment, error) {
	res := PacketAttachment{Interface: iface, Mode: mode}

	linkPin := filepath.Join(pinDir, packetLinkName(iface))
	progPin := filepath.Join(pinDir, programPinName(iface))
	if exists(linkPin) || exists(progPin) {
		return res, fmt.Errorf("%w to %s", ErrAlreadyAttached, iface)
	}

	ifaceLink, err := netlink.LinkByName(iface)
	if err != nil {
		return res, fmt.Errorf("getting interface %s: %w", iface, err)
	}

	coll, err := loadCollection(pinDir, PacketCollectionSpec())
	if err != nil {
		return res, err
	}
	defer coll.Close()

	prog := coll.Programs[PacketProgram]
	xdpLink, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: ifaceLink.Attrs().Index,
		Flags:     mode.linkFlags(),
	})
	if err == nil {
		if err := xdpLink.Pin(linkPin); err != nil {
			xdpLink.Close()
			return res, fmt.Errorf("pinning XDP link: %w", err)
		}
		return res, xdpLink.Close()
	}

	// Kernels without bpf_link support for XDP.
	setFd := func(fd, flags int) error {
		return netlink.LinkSetXdpFdWithFlags(ifaceLink, fd, flags)
	}
	if nlErr := attachXDPNetlink(setFd, prog, mode, progPin); nlErr != nil {
		return res, fmt.Errorf("attaching XDP program to %s: %w (netlink: %v)", iface, err, nlErr)
	}
	res.Netlink = true
	return res, nil
}

type pinnedProgram interface {
	FD() int
	Pin(string) error
}

// attachXDPNetlink attaches prog with setFd and pins it at path. The program
// is removed from the interface again if it cannot be pinned.
func attachXDPNetlink(setFd func(fd, flags int) error, prog pinnedProgram, mode XDPMode, path string) error {
	flags := mode.netlinkFlags()
	if err := setFd(prog.FD(), flags); err != nil {
		return err
	}
	if err := prog.Pin(path); err != nil {
		if derr := setFd(-1, flags&^unix.XDP_FLAGS_UPDATE_IF_NOEXIST); derr != nil {
			return fmt.Errorf("pinning XDP program: %w (detach: %v)", err, derr)
		}
		return fmt.Errorf("pinning XDP program: %w", err)
	}
	return nil
}

// DetachPacketFilter removes the XDP program from iface.
func DetachPacketFilter(pinDir, iface string) error {
	linkPin := filepath.Join(pinDir, packetLinkName(iface))
	progPin := filepath.Join(pinDir, programPinName(iface))

	switch {
	case exists(linkPin):
		if err := unpinLink(linkPin); err != nil {
			return err
		}
	case exists(progPin):
		ifaceLink, err := netlink.LinkByName(iface)
		if err != nil {
			return fmt.Errorf("getting interface %s: %w", iface, err)
		}
		if err := netlink.LinkSetXdpFd(ifaceLink, -1); err != nil {
			return fmt.Errorf("detaching XDP program from %s: %w", iface, err)
		}
		if err := os.Remove(progPin); err != nil {
			return fmt.Errorf("removing pinned program: %w", err)
		}
	default:
		return fmt.Errorf("%w to %s", ErrNotAttached, iface)
	}
	return removeMapsIfUnused(pinDir)
}

// AttachSocketFilter attaches the connect and bind programs to the cgroup
// at cgroupPath.
func AttachSocketFilter(pinDir, cgroupPath string) error {
	for _, p := range sockAddrPrograms {
		if exists(filepath.Join(pinDir, socketLinkName(p.name))) {
			return ErrAlreadyAttached
		}
	}

	coll, err := loadCollection(pinDir, SocketCollectionSpec())
	if err != nil {
		return err
	}
	defer coll.Close()

	var attached []link.Link
	rollback := func() {
		for _, l := range attached {
			l.Unpin()
			l.Close()
		}
	}
	for _, p := range sockAddrPrograms {
		l, err := link.AttachCgroup(link.CgroupOptions{
			Path:    cgroupPath,
			Attach:  p.attach,
			Program: coll.Programs[p.name],
		})
		if err != nil {
			rollback()
			return fmt.Errorf("attaching %s to %s: %w", p.name, cgroupPath, err)
		}
		attached = append(attached, l)
		if err := l.Pin(filepath.Join(pinDir, socketLinkName(p.name))); err != nil {
			rollback()
			return fmt.Errorf("pinning %s link: %w", p.name, err)
		}
	}
	for _, l := range attached {
		l.Close()
	}
	return nil
}

// DetachSocketFilter removes the connect and bind programs.
func DetachSocketFilter(pinDir string) error {
	found := false
	for _, p := range sockAddrPrograms {
		pin := filepath.Join(pinDir, socketLinkName(p.name))
		if !exists(pin) {
			continue
		}
		found = true
		if err := unpinLink(pin); err != nil {
			return err
		}
	}
	if !found {
		return ErrNotAttached
	}
	return removeMapsIfUnused(pinDir)
}

// Attachments lists the pinned links and programs under pinDir.
func Attachments(pinDir string) ([]string, error) {
	entries, err := os.ReadDir(pinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, linkPrefix):
			names = append(names, strings.TrimPrefix(name, linkPrefix))
		case strings.HasPrefix(name, "prog_"):
			names = append(names, strings.TrimPrefix(name, "prog_"))
		}
	}
	return names, nil
}

// PacketAttached reports whether names, as returned by Attachments,
// include an XDP attachment.
func PacketAttached(names []string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, "xdp_") {
			return true
		}
	}
	return false
}

// SocketAttached reports whether names include a connect or bind program.
func SocketAttached(names []string) bool {
	for _, n := range names {
		for _, p := range sockAddrPrograms {
			if n == p.name {
				return true
			}
		}
	}
	return false
}

func unpinLink(path string) error {
	l, err := link.LoadPinnedLink(path, nil)
	if err != nil {
		return fmt.Errorf("loading pinned link %s: %w", filepath.Base(path), err)
	}
	if err := l.Unpin(); err != nil {
		l.Close()
		return fmt.Errorf("unpinning %s: %w", filepath.Base(path), err)
	}
	if err := l.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// removeMapsIfUnused drops the pinned maps and the pin directory once no
// attachment references them.
func removeMapsIfUnused(pinDir string) error {
	left, err := Attachments(pinDir)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		return nil
	}
	for _, name := range []string{TargetPortMap, ProcessConfigMap, PacketEventsMap, SocketEventsMap} {
		if err := os.Remove(filepath.Join(pinDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing pinned map %s: %w", name, err)
		}
	}
	if err := os.Remove(pinDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing BPF FS directory %s: %w", pinDir, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
