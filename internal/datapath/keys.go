package datapath

import "github.com/laik/xnet/internal/model"

// Word-granular FNV-1a. The keys are fixed-width integers, so mixing whole
// words is enough to spread them across shards; see scripts/hash for the
// comparison that settled on this.
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

func mix32(h, w uint32) uint32 {
	h ^= w
	h *= fnvPrime32
	return h
}

// ConnKey identifies one direction of a connection. The two address words
// and the two ports occupy disjoint fields, so distinct tuples can never
// fold onto the same key.
type ConnKey struct {
	Addrs uint64 // src<<32 | dst
	Ports uint32 // sport<<16 | dport
}

// NewConnKey builds the forward key for a packet's tuple.
func NewConnKey(srcIP, dstIP uint32, srcPort, dstPort uint16) ConnKey {
	return ConnKey{
		Addrs: uint64(srcIP)<<32 | uint64(dstIP),
		Ports: uint32(srcPort)<<16 | uint32(dstPort),
	}
}

// Reverse returns the key of the opposite direction.
func (k ConnKey) Reverse() ConnKey {
	return ConnKey{
		Addrs: k.Addrs<<32 | k.Addrs>>32,
		Ports: k.Ports<<16 | k.Ports>>16,
	}
}

func (k ConnKey) SrcIP() uint32   { return uint32(k.Addrs >> 32) }
func (k ConnKey) DstIP() uint32   { return uint32(k.Addrs) }
func (k ConnKey) SrcPort() uint16 { return uint16(k.Ports >> 16) }
func (k ConnKey) DstPort() uint16 { return uint16(k.Ports) }

func (k ConnKey) Sum32() uint32 {
	h := mix32(fnvOffset32, uint32(k.Addrs>>32))
	h = mix32(h, uint32(k.Addrs))
	return mix32(h, k.Ports)
}

// IPKey is a source address, host order.
type IPKey uint32

func (k IPKey) Sum32() uint32 {
	return mix32(fnvOffset32, uint32(k))
}

// PortKey is a transport port, either end of the connection.
type PortKey uint16

func (k PortKey) Sum32() uint32 {
	return mix32(fnvOffset32, uint32(k))
}

// CounterKey indexes the global totals table.
type CounterKey uint32

const (
	CounterPackets CounterKey = 0
	CounterBytes   CounterKey = 1
)

func (k CounterKey) Sum32() uint32 {
	return mix32(fnvOffset32, uint32(k))
}

// DeviceDirKey packs a device id with its normalized direction as
// id*2 + direction bit. Unlike the connection fold this never aliases:
// the id and the bit occupy disjoint bits of the wider word.
type DeviceDirKey uint64

// NewDeviceDirKey derives the per-direction key for a device.
func NewDeviceDirKey(deviceID uint32, dir model.Direction) DeviceDirKey {
	return DeviceDirKey(uint64(deviceID)*2 + uint64(dir))
}

func (k DeviceDirKey) DeviceID() uint32 { return uint32(k >> 1) }

func (k DeviceDirKey) Direction() model.Direction { return model.Direction(k & 1) }

func (k DeviceDirKey) Sum32() uint32 {
	h := mix32(fnvOffset32, uint32(k>>32))
	return mix32(h, uint32(k))
}

// DeviceConnKey is the folded per-device connection key. The fold is lossy:
// device id and source port share the low 16 bits, and a protocol of 17
// wraps in the top nibble, so distinct tuples can land on the same key. The
// first writer's tuple is preserved in the stored value and later hits only
// accumulate counters.
type DeviceConnKey uint32

// FoldDeviceConn reduces a device connection tuple to its table key. All
// additions and shifts wrap at 32 bits.
func FoldDeviceConn(deviceID uint32, srcPort, dstPort uint16, dir model.Direction, proto uint8) DeviceConnKey {
	return DeviceConnKey(deviceID +
		uint32(srcPort) +
		uint32(dstPort)<<16 +
		uint32(dir)<<24 +
		uint32(proto)<<28)
}

func (k DeviceConnKey) Sum32() uint32 {
	return mix32(fnvOffset32, uint32(k))
}
