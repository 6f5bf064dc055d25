// Package filtertest builds frames and contexts for exercising the filters.
package filtertest

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IP{10, 0, 0, 1}
	dstIP  = net.IP{10, 0, 0, 2}
)

func serialize(tb testing.TB, ls ...gopacket.SerializableLayer) []byte {
	tb.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		tb.Fatalf("serializing frame: %v", err)
	}
	return buf.Bytes()
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
}

// TCPFrame returns an Ethernet/IPv4/TCP SYN frame with no IP options.
func TCPFrame(tb testing.TB, srcPort, dstPort uint16) []byte {
	tb.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		SYN:     true,
		Window:  64240,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		tb.Fatalf("setting checksum layer: %v", err)
	}
	return serialize(tb, ethernet(), ip, tcp)
}

// UDPFrame returns an Ethernet/IPv4/UDP frame padded with payload so that it
// is at least as long as the TCP header prefix.
func UDPFrame(tb testing.TB, srcPort, dstPort uint16) []byte {
	tb.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		tb.Fatalf("setting checksum layer: %v", err)
	}
	return serialize(tb, ethernet(), ip, udp, gopacket.Payload(make([]byte, 32)))
}
