package fwebpf

import (
	"encoding/binary"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"portguard/filter"
)

// Program names.
const (
	PacketProgram   = "xdp_drop_tcp_port"
	Connect4Program = "filter_connect4"
	Connect6Program = "filter_connect6"
	Bind4Program    = "filter_bind4"
	Bind6Program    = "filter_bind6"
)

const license = "GPL"

// Offsets into the program contexts.
const (
	xdpDataOff        = 0 // struct xdp_md.data
	xdpDataEndOff     = 4 // struct xdp_md.data_end
	sockUserPortOff   = 24
	ipProtocolOff     = filter.EthernetHeaderLen + 9
	tcpSourcePortOff  = filter.EthernetHeaderLen + filter.IPv4HeaderLen
	tcpDestPortOff    = tcpSourcePortOff + 2
	allowedPortOff    = filter.MaxNameLen
	pidTgidPidShift   = 32
	eventStackOff     = -filter.EventSize
	eventActionOff    = eventStackOff + 1
	eventPortOff      = eventStackOff + 2
	eventPIDOff       = eventStackOff + 4
	eventCommOff      = eventStackOff + 8
	configKeyStackOff = eventStackOff - 4
)

var nativeBigEndian = binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x1234

// loadWirePort loads the big-endian u16 at base+off into dst in host order,
// one byte at a time so the result does not depend on the host byte order.
func loadWirePort(dst, base asm.Register, off int16, tmp asm.Register) asm.Instructions {
	return asm.Instructions{
		asm.LoadMem(dst, base, off, asm.Byte),
		asm.LoadMem(tmp, base, off+1, asm.Byte),
		asm.LSh.Imm(dst, 8),
		asm.Or.Reg(dst, tmp),
	}
}

// userPortToHost converts the wire-order port in the low half of dst to host
// order and clears the upper bits.
func userPortToHost(dst, tmp asm.Register) asm.Instructions {
	if nativeBigEndian {
		return asm.Instructions{asm.And.Imm(dst, 0xffff)}
	}
	return asm.Instructions{
		asm.Mov.Reg(tmp, dst),
		asm.And.Imm(dst, 0xff),
		asm.LSh.Imm(dst, 8),
		asm.RSh.Imm(tmp, 8),
		asm.And.Imm(tmp, 0xff),
		asm.Or.Reg(dst, tmp),
	}
}

// lookupConfig leaves a pointer to the value at key 0 of mapName in R0.
func lookupConfig(mapName string) asm.Instructions {
	return asm.Instructions{
		asm.StoreImm(asm.RFP, configKeyStackOff, int64(filter.ConfigKey), asm.Word),
		asm.LoadMapPtr(asm.R1, 0).WithReference(mapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, configKeyStackOff),
		asm.FnMapLookupElem.Call(),
	}
}

// emitEvent submits the event assembled on the stack. Losing it is fine.
func emitEvent(mapName string) asm.Instructions {
	return asm.Instructions{
		asm.LoadMapPtr(asm.R1, 0).WithReference(mapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, eventStackOff),
		asm.Mov.Imm(asm.R3, filter.EventSize),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnRingbufOutput.Call(),
	}
}

// packetInstructions mirrors filter.PacketHook: fail open on short or
// non-TCP frames and on a zero port, drop when either TCP port matches.
//
//	r6 data, r7 data_end then configured port, r8 source port, r9 dest port
func packetInstructions() asm.Instructions {
	insns := asm.Instructions{
		asm.LoadMem(asm.R6, asm.R1, xdpDataOff, asm.Word),
		asm.LoadMem(asm.R7, asm.R1, xdpDataEndOff, asm.Word),
		asm.Mov.Reg(asm.R2, asm.R6),
		asm.Add.Imm(asm.R2, filter.HeaderPrefixLen),
		asm.JGT.Reg(asm.R2, asm.R7, "pass"),
		asm.LoadMem(asm.R2, asm.R6, ipProtocolOff, asm.Byte),
		asm.JNE.Imm(asm.R2, filter.IPProtoTCP, "pass"),
	}
	insns = append(insns, loadWirePort(asm.R8, asm.R6, tcpSourcePortOff, asm.R2)...)
	insns = append(insns, loadWirePort(asm.R9, asm.R6, tcpDestPortOff, asm.R2)...)
	insns = append(insns, lookupConfig(TargetPortMap)...)
	insns = append(insns,
		asm.JEq.Imm(asm.R0, 0, "pass"),
		asm.LoadMem(asm.R7, asm.R0, 0, asm.Word),
		asm.And.Imm(asm.R7, 0xffff),
		asm.JEq.Imm(asm.R7, 0, "pass"),
		asm.JEq.Reg(asm.R8, asm.R7, "drop"),
		asm.JEq.Reg(asm.R9, asm.R7, "drop"),

		asm.Mov.Imm(asm.R0, int32(filter.XDPPass)).WithSymbol("pass"),
		asm.Return(),

		asm.StoreImm(asm.RFP, eventStackOff, int64(filter.HookXDP), asm.Byte).WithSymbol("drop"),
		asm.StoreImm(asm.RFP, eventActionOff, int64(filter.Drop), asm.Byte),
		asm.StoreMem(asm.RFP, eventPortOff, asm.R7, asm.Half),
		asm.StoreImm(asm.RFP, eventPIDOff, 0, asm.Word),
		asm.StoreImm(asm.RFP, eventCommOff, 0, asm.Word),
		asm.StoreImm(asm.RFP, eventCommOff+4, 0, asm.Word),
		asm.StoreImm(asm.RFP, eventCommOff+8, 0, asm.Word),
		asm.StoreImm(asm.RFP, eventCommOff+12, 0, asm.Word),
	)
	insns = append(insns, emitEvent(PacketEventsMap)...)
	return append(insns,
		asm.Mov.Imm(asm.R0, int32(filter.XDPDrop)),
		asm.Return(),
	)
}

// sockAddrInstructions mirrors filter.SockAddrHook for one hook.
//
//	r6 ctx, r7 config record, r8 requested port
func sockAddrInstructions(hook filter.Hook) asm.Instructions {
	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
	}
	insns = append(insns, lookupConfig(ProcessConfigMap)...)
	insns = append(insns,
		asm.JEq.Imm(asm.R0, 0, "allow"),
		asm.Mov.Reg(asm.R7, asm.R0),
		asm.LoadMem(asm.R2, asm.R7, 0, asm.Byte),
		asm.JEq.Imm(asm.R2, 0, "allow"),

		// The comm buffer doubles as the event's comm field.
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, eventCommOff),
		asm.Mov.Imm(asm.R2, filter.MaxNameLen),
		asm.FnGetCurrentComm.Call(),
	)
	for i := int16(0); i < filter.MaxNameLen; i++ {
		insns = append(insns,
			asm.LoadMem(asm.R2, asm.RFP, eventCommOff+i, asm.Byte),
			asm.LoadMem(asm.R3, asm.R7, i, asm.Byte),
			asm.JNE.Reg(asm.R2, asm.R3, "allow"),
			asm.JEq.Imm(asm.R2, 0, "match"),
		)
	}
	insns = append(insns, asm.LoadMem(asm.R8, asm.R6, sockUserPortOff, asm.Word).WithSymbol("match"))
	insns = append(insns, userPortToHost(asm.R8, asm.R9)...)
	insns = append(insns,
		asm.LoadMem(asm.R2, asm.R7, allowedPortOff, asm.Half),
		asm.JEq.Reg(asm.R8, asm.R2, "allow"),
	)
	if hook.Operation() == filter.OpBind {
		insns = append(insns, asm.JEq.Imm(asm.R8, 0, "allow"))
	}
	insns = append(insns,
		asm.StoreImm(asm.RFP, eventStackOff, int64(hook), asm.Byte),
		asm.StoreImm(asm.RFP, eventActionOff, int64(filter.Drop), asm.Byte),
		asm.StoreMem(asm.RFP, eventPortOff, asm.R8, asm.Half),
		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, pidTgidPidShift),
		asm.StoreMem(asm.RFP, eventPIDOff, asm.R0, asm.Word),
	)
	insns = append(insns, emitEvent(SocketEventsMap)...)
	return append(insns,
		asm.Mov.Imm(asm.R0, filter.SockAddrReject),
		asm.Return(),

		asm.Mov.Imm(asm.R0, filter.SockAddrPermit).WithSymbol("allow"),
		asm.Return(),
	)
}

// PacketCollectionSpec returns the XDP program and the maps it uses.
func PacketCollectionSpec() *ebpf.CollectionSpec {
	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			TargetPortMap:   targetPortSpec(),
			PacketEventsMap: eventsSpec(PacketEventsMap),
		},
		Programs: map[string]*ebpf.ProgramSpec{
			PacketProgram: {
				Name:         PacketProgram,
				Type:         ebpf.XDP,
				AttachType:   ebpf.AttachXDP,
				Instructions: packetInstructions(),
				License:      license,
			},
		},
	}
}

type sockAddrProgram struct {
	name   string
	hook   filter.Hook
	attach ebpf.AttachType
}

var sockAddrPrograms = []sockAddrProgram{
	{Connect4Program, filter.HookConnect4, ebpf.AttachCGroupInet4Connect},
	{Connect6Program, filter.HookConnect6, ebpf.AttachCGroupInet6Connect},
	{Bind4Program, filter.HookBind4, ebpf.AttachCGroupInet4Bind},
	{Bind6Program, filter.HookBind6, ebpf.AttachCGroupInet6Bind},
}

// SocketCollectionSpec returns the four cgroup sock_addr programs and the
// maps they use.
func SocketCollectionSpec() *ebpf.CollectionSpec {
	spec := &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			ProcessConfigMap: processConfigSpec(),
			SocketEventsMap:  eventsSpec(SocketEventsMap),
		},
		Programs: make(map[string]*ebpf.ProgramSpec, len(sockAddrPrograms)),
	}
	for _, p := range sockAddrPrograms {
		spec.Programs[p.name] = &ebpf.ProgramSpec{
			Name:         p.name,
			Type:         ebpf.CGroupSockAddr,
			AttachType:   p.attach,
			Instructions: sockAddrInstructions(p.hook),
			License:      license,
		}
	}
	return spec
}
