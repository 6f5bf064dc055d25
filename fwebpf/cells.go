package fwebpf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"

	"portguard/filter"
)

func openPinnedMap(pinDir, name string) (*ebpf.Map, error) {
	m, err := ebpf.LoadPinnedMap(filepath.Join(pinDir, name), nil)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotLoaded)
		}
		return nil, fmt.Errorf("loading pinned %s map: %w", name, err)
	}
	return m, nil
}

// PortMap is the kernel copy of the packet filter configuration.
type PortMap struct {
	m *ebpf.Map
}

// OpenPortMap opens the pinned target_port map.
func OpenPortMap(pinDir string) (*PortMap, error) {
	m, err := openPinnedMap(pinDir, TargetPortMap)
	if err != nil {
		return nil, err
	}
	return &PortMap{m: m}, nil
}

// Load implements filter.PortRuleReader.
func (p *PortMap) Load() (filter.PortRule, bool) {
	var rule filter.PortRule
	buf := make([]byte, filter.PortRuleSize)
	if err := p.m.Lookup(filter.ConfigKey, buf); err != nil {
		return rule, false
	}
	if err := rule.UnmarshalBinary(buf); err != nil {
		return rule, false
	}
	return rule, true
}

// Store replaces the configured port. Port 0 disables the filter.
func (p *PortMap) Store(rule filter.PortRule) error {
	rec, err := rule.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.m.Put(filter.ConfigKey, rec); err != nil {
		return fmt.Errorf("updating %s: %w", TargetPortMap, err)
	}
	return nil
}

func (p *PortMap) Close() error { return p.m.Close() }

// ProcessMap is the kernel copy of the socket filter configuration.
type ProcessMap struct {
	m *ebpf.Map
}

// OpenProcessMap opens the pinned process_filter_config map.
func OpenProcessMap(pinDir string) (*ProcessMap, error) {
	m, err := openPinnedMap(pinDir, ProcessConfigMap)
	if err != nil {
		return nil, err
	}
	return &ProcessMap{m: m}, nil
}

// Load implements filter.ProcessRuleReader.
func (p *ProcessMap) Load() (filter.ProcessPortRule, bool) {
	var rule filter.ProcessPortRule
	buf := make([]byte, filter.ProcessPortRuleSize)
	if err := p.m.Lookup(filter.ConfigKey, buf); err != nil {
		return rule, false
	}
	if err := rule.UnmarshalBinary(buf); err != nil {
		return rule, false
	}
	return rule, true
}

// Store replaces the whole record in one update.
func (p *ProcessMap) Store(rule filter.ProcessPortRule) error {
	rec, err := rule.MarshalBinary()
	if err != nil {
		return err
	}
	if err := p.m.Put(filter.ConfigKey, rec); err != nil {
		return fmt.Errorf("updating %s: %w", ProcessConfigMap, err)
	}
	return nil
}

func (p *ProcessMap) Close() error { return p.m.Close() }

var (
	_ filter.PortRuleReader    = (*PortMap)(nil)
	_ filter.ProcessRuleReader = (*ProcessMap)(nil)
)
