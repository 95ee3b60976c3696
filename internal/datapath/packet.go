package datapath

import (
	"encoding/binary"
	"errors"
)

// ErrOutOfBounds is returned whenever a fixed-size header read would exceed
// the end of the frame. The packet is abandoned for that parsing stage; no
// field of the header is read.
var ErrOutOfBounds = errors.New("header read out of bounds")

// Fixed header sizes. IPv4 options are ignored: the transport header is
// always parsed at EthHeaderLen+IPv4HeaderLen, the same fixed layout the
// in-kernel original assumed.
const (
	EthHeaderLen  = 14
	IPv4HeaderLen = 20
	TCPHeaderLen  = 20
	UDPHeaderLen  = 8
)

// EtherTypeIPv4 is the only EtherType the pipeline processes.
const EtherTypeIPv4 = 0x0800

// TCP flag bits, as found in the flags byte of the header.
const (
	TCPFlagFin = 0x01
	TCPFlagSyn = 0x02
	TCPFlagRst = 0x04
	TCPFlagAck = 0x10
)

// IP protocol numbers routed by the dispatcher.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// PacketView is a read-only view over a single captured frame. It never owns
// or copies the frame; its lifetime is one Process call. Every header access
// goes through the slice bounds gate below; there is no other offset
// arithmetic against the frame anywhere in the package.
type PacketView struct {
	data []byte
}

// NewPacketView wraps a frame. The caller keeps ownership of the bytes.
func NewPacketView(data []byte) PacketView {
	return PacketView{data: data}
}

// Len returns the wire length of the frame.
func (p PacketView) Len() int {
	return len(p.data)
}

// slice is the single bounds check between arbitrary network input and the
// rest of the pipeline: either the whole fixed-size header is in range, or
// nothing is read.
func (p PacketView) slice(offset, size int) ([]byte, error) {
	if offset+size > len(p.data) {
		return nil, ErrOutOfBounds
	}
	return p.data[offset : offset+size], nil
}

// EthernetHeader carries the fields read from the Ethernet header.
type EthernetHeader struct {
	EtherType uint16
}

// Ethernet parses the Ethernet header at the start of the frame.
func (p PacketView) Ethernet() (EthernetHeader, error) {
	b, err := p.slice(0, EthHeaderLen)
	if err != nil {
		return EthernetHeader{}, err
	}
	return EthernetHeader{
		EtherType: binary.BigEndian.Uint16(b[12:14]),
	}, nil
}

// IPv4Header carries the fields read from the fixed 20-byte IPv4 header.
// Addresses are big-endian uint32.
type IPv4Header struct {
	TotalLen uint16
	Protocol uint8
	SrcIP    uint32
	DstIP    uint32
}

// IPv4 parses the IPv4 header at the given offset.
func (p PacketView) IPv4(offset int) (IPv4Header, error) {
	b, err := p.slice(offset, IPv4HeaderLen)
	if err != nil {
		return IPv4Header{}, err
	}
	return IPv4Header{
		TotalLen: binary.BigEndian.Uint16(b[2:4]),
		Protocol: b[9],
		SrcIP:    binary.BigEndian.Uint32(b[12:16]),
		DstIP:    binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// TCPHeader carries the fields read from the fixed 20-byte TCP header.
type TCPHeader struct {
	SrcPort uint16
	DstPort uint16
	Flags   uint8
}

// TCP parses the TCP header at the given offset.
func (p PacketView) TCP(offset int) (TCPHeader, error) {
	b, err := p.slice(offset, TCPHeaderLen)
	if err != nil {
		return TCPHeader{}, err
	}
	return TCPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Flags:   b[13],
	}, nil
}

// UDPHeader carries the fields read from the 8-byte UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// UDP parses the UDP header at the given offset.
func (p PacketView) UDP(offset int) (UDPHeader, error) {
	b, err := p.slice(offset, UDPHeaderLen)
	if err != nil {
		return UDPHeader{}, err
	}
	return UDPHeader{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Length:  binary.BigEndian.Uint16(b[4:6]),
	}, nil
}
