package rules

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"portguard/config"
	"portguard/filter"
	"portguard/fwebpf"
)

// Initialize colored output
var (
	info     = color.New(color.FgBlue).PrintfFunc()
	success  = color.New(color.FgGreen).PrintfFunc()
	errPrint = color.New(color.FgRed).FprintfFunc()
)

// ParsePort converts a port string to uint16. "" and "any" mean 0, which
// disables a filter.
func ParsePort(portStr string) (uint16, error) {
	if portStr == "" || strings.EqualFold(portStr, "any") {
		return 0, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %s (want 0-65535)", portStr)
	}
	return uint16(port), nil
}

// PortWriter stores the packet filter record.
type PortWriter interface {
	Store(filter.PortRule) error
}

// ProcessWriter stores the socket filter record.
type ProcessWriter interface {
	Store(filter.ProcessPortRule) error
}

// ApplyPortRule writes rule to the packet filter cell.
func ApplyPortRule(w PortWriter, rule filter.PortRule) error {
	if err := w.Store(rule); err != nil {
		return fmt.Errorf("setting target port: %w", err)
	}
	if rule.Enabled() {
		success("  ✓ Dropping TCP traffic on port %d\n", rule.Port)
	} else {
		success("  ✓ Packet filter disabled\n")
	}
	return nil
}

// ApplyProcessRule writes rule to the socket filter cell.
func ApplyProcessRule(w ProcessWriter, rule filter.ProcessPortRule) error {
	if err := w.Store(rule); err != nil {
		return fmt.Errorf("setting process filter: %w", err)
	}
	if rule.Enabled() {
		success("  ✓ Process %q restricted to port %d\n", rule.Name(), rule.AllowedPort)
	} else {
		success("  ✓ Socket filter disabled\n")
	}
	return nil
}

// ApplyConfig writes both records of cfg to the pinned maps. A filter that
// is not attached is skipped with a notice; if neither is, the error
// is fwebpf.ErrNotLoaded.
func ApplyConfig(cfg *config.Config) error {
	pinDir := cfg.PinDir()
	processRule, err := cfg.ProcessRule()
	if err != nil {
		return err
	}

	attachments, err := fwebpf.Attachments(pinDir)
	if err != nil {
		return fmt.Errorf("listing attachments: %w", err)
	}

	applied := 0
	ports, err := openPortMap(pinDir, attachments)
	switch {
	case errors.Is(err, fwebpf.ErrNotLoaded):
		info("Packet filter not attached, skipping port %d\n", cfg.Packet.Port)
	case err != nil:
		return err
	default:
		defer ports.Close()
		if err := ApplyPortRule(ports, cfg.PortRule()); err != nil {
			return err
		}
		applied++
	}

	procs, err := openProcessMap(pinDir, attachments)
	switch {
	case errors.Is(err, fwebpf.ErrNotLoaded):
		if processRule.Enabled() {
			info("Socket filter not attached, skipping process %q\n", processRule.Name())
		}
	case err != nil:
		return err
	default:
		defer procs.Close()
		if err := ApplyProcessRule(procs, processRule); err != nil {
			return err
		}
		applied++
	}

	if applied == 0 {
		errPrint(os.Stderr, "No filter attached under %s; run 'attach' first\n", pinDir)
		return fwebpf.ErrNotLoaded
	}
	return nil
}
