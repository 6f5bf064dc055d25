package fwebpf

import (
	"github.com/cilium/ebpf"

	"portguard/filter"
)

// Map names. All maps are pinned by name under the bpffs directory so that
// every attachment shares one configuration slot.
const (
	TargetPortMap    = "target_port"
	ProcessConfigMap = "process_filter_config"
	PacketEventsMap  = "packet_events"
	SocketEventsMap  = "socket_events"
)

// eventRingSize is the ring buffer size in bytes. It must be a power of two
// and a multiple of the page size.
const eventRingSize = 1 << 18

func targetPortSpec() *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       TargetPortMap,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  filter.PortRuleSize,
		MaxEntries: 1,
		Pinning:    ebpf.PinByName,
	}
}

func processConfigSpec() *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       ProcessConfigMap,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  filter.ProcessPortRuleSize,
		MaxEntries: 1,
		Pinning:    ebpf.PinByName,
	}
}

func eventsSpec(name string) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       name,
		Type:       ebpf.RingBuf,
		MaxEntries: eventRingSize,
		Pinning:    ebpf.PinByName,
	}
}
