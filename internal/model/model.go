package model

import (
	"net"
	"time"
)

// Direction is the logical traffic direction for a device, after any
// paired-interface normalization.
type Direction uint8

const (
	DirectionIngress Direction = 0
	DirectionEgress  Direction = 1
)

func (d Direction) String() string {
	if d == DirectionEgress {
		return "egress"
	}
	return "ingress"
}

// ConnState is the tracked state of a TCP connection. UDP flows reuse the
// tracking table with StateFlowSeen as their presence marker.
type ConnState uint32

const (
	StateSynSeen     ConnState = 1
	StateEstablished ConnState = 2
	StateFinSeen     ConnState = 3
	StateReset       ConnState = 4
	StateFlowSeen    ConnState = 5
)

func (s ConnState) String() string {
	switch s {
	case StateSynSeen:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateFinSeen:
		return "closing"
	case StateReset:
		return "reset"
	case StateFlowSeen:
		return "flow"
	}
	return "unknown"
}

// ProtocolName returns the transport label used in API output and events.
func ProtocolName(proto uint8) string {
	switch proto {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	}
	return "other"
}

// ConnStats accumulates per-direction counters for one connection or flow key.
type ConnStats struct {
	Packets uint64
	Bytes   uint64
}

// PortStats accumulates counters for a single TCP/UDP port, source or
// destination. LastSeen is a unix timestamp in seconds.
type PortStats struct {
	Packets  uint64
	Bytes    uint64
	LastSeen uint64
}

// DeviceStats accumulates counters for one (device, direction) pair.
type DeviceStats struct {
	Packets  uint64
	Bytes    uint64
	LastSeen uint64
}

// DeviceConnStats is the record stored under the folded device-connection
// key. The tuple fields are those of the first packet that created the
// record; keys that collide under the fold merge their counters here.
type DeviceConnStats struct {
	DeviceID  uint32
	SrcPort   uint16
	DstPort   uint16
	Direction Direction
	Protocol  uint8
	Timestamp uint64
	Packets   uint64
	Bytes     uint64
}

// IPString renders a big-endian IPv4 address as dotted quad.
func IPString(ip uint32) string {
	return net.IP{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}.String()
}

// --- Snapshot view ---

// Snapshot is the full read-only view over every statistics table, as served
// by the API and consumed by the snapshot writers. Counters are raw
// integers; formatting is up to the consumer.
type Snapshot struct {
	TakenAt      time.Time         `json:"taken_at"`
	TotalPackets uint64            `json:"total_packets"`
	TotalBytes   uint64            `json:"total_bytes"`
	IPs          []IPEntry         `json:"ip_stats"`
	Connections  []ConnEntry       `json:"connections"`
	Ports        []PortEntry       `json:"port_stats"`
	Devices      []DeviceEntry     `json:"device_stats"`
	DeviceConns  []DeviceConnEntry `json:"device_connections"`
}

type IPEntry struct {
	IP    string `json:"ip"`
	Bytes uint64 `json:"bytes"`
}

type ConnEntry struct {
	SrcIP   string `json:"src_ip"`
	SrcPort uint16 `json:"src_port"`
	DstIP   string `json:"dst_ip"`
	DstPort uint16 `json:"dst_port"`
	State   string `json:"state"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

type PortEntry struct {
	Port     uint16 `json:"port"`
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	LastSeen uint64 `json:"last_seen"`
}

type DeviceEntry struct {
	DeviceID  uint32 `json:"device_id"`
	Device    string `json:"device,omitempty"`
	Direction string `json:"direction"`
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
	LastSeen  uint64 `json:"last_seen"`
}

type DeviceConnEntry struct {
	DeviceID  uint32 `json:"device_id"`
	SrcPort   uint16 `json:"src_port"`
	DstPort   uint16 `json:"dst_port"`
	Direction string `json:"direction"`
	Protocol  string `json:"protocol"`
	Timestamp uint64 `json:"timestamp"`
	Packets   uint64 `json:"packets"`
	Bytes     uint64 `json:"bytes"`
}

// DeviceSnapshot is the device-scoped view served by the per-device stats
// endpoint of the API.
type DeviceSnapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	DeviceID    uint32            `json:"device_id"`
	Device      string            `json:"device,omitempty"`
	Directions  []DeviceEntry     `json:"directions"`
	Connections []DeviceConnEntry `json:"connections"`
}

// --- Flow events ---

// Event types emitted by the datapath. UDP flows report NEW on first sight
// of either direction and DATA afterwards; TCP reports each flag-driven
// state transition.
const (
	EventUDPNew         = "udp_new"
	EventUDPData        = "udp_data"
	EventTCPSyn         = "tcp_syn"
	EventTCPEstablished = "tcp_established"
	EventTCPFin         = "tcp_fin"
	EventTCPReset       = "tcp_reset"
)

// FlowEvent is the observability record published on the event stream.
type FlowEvent struct {
	Type      string    `json:"type"`
	Protocol  string    `json:"protocol"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   uint16    `json:"src_port"`
	DstIP     string    `json:"dst_ip"`
	DstPort   uint16    `json:"dst_port"`
	Bytes     uint64    `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
}
