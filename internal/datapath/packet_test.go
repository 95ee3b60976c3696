package datapath

import (
	"encoding/binary"
	"errors"
	"testing"
)

// --- Frame builders shared by the package tests ---

func ip4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// buildTCP returns a minimal Ethernet+IPv4+TCP frame. totalLen is written
// into the IP header verbatim so tests control the counted length.
func buildTCP(srcIP, dstIP uint32, sport, dport uint16, flags uint8, totalLen uint16) []byte {
	frame := make([]byte, EthHeaderLen+IPv4HeaderLen+TCPHeaderLen)
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv4)

	ip := frame[EthHeaderLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], totalLen)
	ip[8] = 64
	ip[9] = ProtoTCP
	binary.BigEndian.PutUint32(ip[12:16], srcIP)
	binary.BigEndian.PutUint32(ip[16:20], dstIP)

	tcp := ip[IPv4HeaderLen:]
	binary.BigEndian.PutUint16(tcp[0:2], sport)
	binary.BigEndian.PutUint16(tcp[2:4], dport)
	tcp[12] = 0x50
	tcp[13] = flags
	return frame
}

// buildUDP returns a minimal Ethernet+IPv4+UDP frame.
func buildUDP(srcIP, dstIP uint32, sport, dport uint16, totalLen uint16) []byte {
	frame := make([]byte, EthHeaderLen+IPv4HeaderLen+UDPHeaderLen)
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv4)

	ip := frame[EthHeaderLen:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], totalLen)
	ip[8] = 64
	ip[9] = ProtoUDP
	binary.BigEndian.PutUint32(ip[12:16], srcIP)
	binary.BigEndian.PutUint32(ip[16:20], dstIP)

	udp := ip[IPv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], sport)
	binary.BigEndian.PutUint16(udp[2:4], dport)
	binary.BigEndian.PutUint16(udp[4:6], totalLen-IPv4HeaderLen)
	return frame
}

// --- Parser tests ---

func TestHeaderFields(t *testing.T) {
	frame := buildTCP(ip4(192, 168, 0, 1), ip4(10, 0, 0, 2), 443, 51000, TCPFlagSyn|TCPFlagAck, 52)
	pkt := NewPacketView(frame)

	eth, err := pkt.Ethernet()
	if err != nil {
		t.Fatalf("Failed to parse ethernet header: %v", err)
	}
	if eth.EtherType != EtherTypeIPv4 {
		t.Errorf("Expected ethertype 0x0800, got 0x%04x", eth.EtherType)
	}

	ip, err := pkt.IPv4(EthHeaderLen)
	if err != nil {
		t.Fatalf("Failed to parse IP header: %v", err)
	}
	if ip.TotalLen != 52 {
		t.Errorf("Expected total length 52, got %d", ip.TotalLen)
	}
	if ip.Protocol != ProtoTCP {
		t.Errorf("Expected protocol 6, got %d", ip.Protocol)
	}
	if ip.SrcIP != ip4(192, 168, 0, 1) || ip.DstIP != ip4(10, 0, 0, 2) {
		t.Errorf("Address fields mismatch: src=%08x dst=%08x", ip.SrcIP, ip.DstIP)
	}

	tcp, err := pkt.TCP(EthHeaderLen + IPv4HeaderLen)
	if err != nil {
		t.Fatalf("Failed to parse TCP header: %v", err)
	}
	if tcp.SrcPort != 443 || tcp.DstPort != 51000 {
		t.Errorf("Port fields mismatch: src=%d dst=%d", tcp.SrcPort, tcp.DstPort)
	}
	if tcp.Flags != TCPFlagSyn|TCPFlagAck {
		t.Errorf("Expected flags 0x%02x, got 0x%02x", TCPFlagSyn|TCPFlagAck, tcp.Flags)
	}
}

func TestUDPHeaderFields(t *testing.T) {
	frame := buildUDP(ip4(10, 1, 1, 1), ip4(10, 1, 1, 2), 5353, 5353, 60)
	pkt := NewPacketView(frame)

	udp, err := pkt.UDP(EthHeaderLen + IPv4HeaderLen)
	if err != nil {
		t.Fatalf("Failed to parse UDP header: %v", err)
	}
	if udp.SrcPort != 5353 || udp.DstPort != 5353 {
		t.Errorf("Port fields mismatch: src=%d dst=%d", udp.SrcPort, udp.DstPort)
	}
	if udp.Length != 40 {
		t.Errorf("Expected UDP length 40, got %d", udp.Length)
	}
}

func TestTruncatedFrames(t *testing.T) {
	full := buildTCP(ip4(10, 0, 0, 1), ip4(10, 0, 0, 2), 1000, 80, TCPFlagSyn, 40)

	cases := []struct {
		name string
		cut  int
		read func(PacketView) error
	}{
		{"ethernet", EthHeaderLen - 1, func(p PacketView) error {
			_, err := p.Ethernet()
			return err
		}},
		{"ipv4", EthHeaderLen + IPv4HeaderLen - 1, func(p PacketView) error {
			_, err := p.IPv4(EthHeaderLen)
			return err
		}},
		{"tcp", EthHeaderLen + IPv4HeaderLen + TCPHeaderLen - 1, func(p PacketView) error {
			_, err := p.TCP(EthHeaderLen + IPv4HeaderLen)
			return err
		}},
		{"udp", EthHeaderLen + IPv4HeaderLen + UDPHeaderLen - 1, func(p PacketView) error {
			_, err := p.UDP(EthHeaderLen + IPv4HeaderLen)
			return err
		}},
	}

	for _, tc := range cases {
		pkt := NewPacketView(full[:tc.cut])
		if err := tc.read(pkt); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("%s: expected ErrOutOfBounds on a %d-byte frame, got %v", tc.name, tc.cut, err)
		}
	}
}

func TestBoundaryExact(t *testing.T) {
	// A frame that is exactly one header long parses; one byte shorter
	// does not.
	full := buildTCP(ip4(10, 0, 0, 1), ip4(10, 0, 0, 2), 1, 2, 0, 40)
	pkt := NewPacketView(full[:EthHeaderLen+IPv4HeaderLen])

	if _, err := pkt.IPv4(EthHeaderLen); err != nil {
		t.Errorf("Expected IP header at exact bound to parse, got %v", err)
	}
	if _, err := pkt.TCP(EthHeaderLen + IPv4HeaderLen); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for TCP header past the frame end, got %v", err)
	}
}
