package datapath

import (
	"sort"
	"time"

	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/internal/metrics"
	"github.com/laik/xnet/internal/model"
)

// Table capacities are fixed at construction. Capacity pressure degrades to
// dropped increments, never to dropped packets.
const (
	ipTableCap    = 1024
	connTrackCap  = 8192
	connStatsCap  = 8192
	portTableCap  = 65536
	totalsCap     = 2
	deviceDirCap  = 1024
	deviceConnCap = 1024

	statShards = 32
)

// Pipeline is the per-packet accounting engine: one Process call per
// captured frame, all durable state in the fixed-capacity tables, reads
// served as best-effort snapshots. Process is safe to call concurrently
// from one capture loop per interface.
type Pipeline struct {
	registry *device.Registry
	metrics  *metrics.Metrics
	events   chan<- model.FlowEvent

	totals     *Table[CounterKey, uint64]
	ipStats    *Table[IPKey, uint64]
	track      *Table[ConnKey, model.ConnState]
	connStats  *Table[ConnKey, model.ConnStats]
	ports      *Table[PortKey, model.PortStats]
	deviceDir  *Table[DeviceDirKey, model.DeviceStats]
	deviceConn *Table[DeviceConnKey, model.DeviceConnStats]
}

// NewPipeline builds a pipeline over the given registry. events may be nil
// to disable flow-event publication; m may be nil for a detached metrics
// set (handy in tests).
func NewPipeline(registry *device.Registry, m *metrics.Metrics, events chan<- model.FlowEvent) *Pipeline {
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		registry:   registry,
		metrics:    m,
		events:     events,
		totals:     NewTable[CounterKey, uint64]("totals", totalsCap, 1),
		ipStats:    NewTable[IPKey, uint64]("ip_stats", ipTableCap, statShards),
		track:      NewTable[ConnKey, model.ConnState]("conn_track", connTrackCap, statShards),
		connStats:  NewTable[ConnKey, model.ConnStats]("conn_stats", connStatsCap, statShards),
		ports:      NewTable[PortKey, model.PortStats]("port_stats", portTableCap, statShards),
		deviceDir:  NewTable[DeviceDirKey, model.DeviceStats]("device_stats", deviceDirCap, statShards),
		deviceConn: NewTable[DeviceConnKey, model.DeviceConnStats]("device_conn_stats", deviceConnCap, statShards),
	}
}

// Process accounts one captured frame for the given device. hookIngress is
// the direction as the capture point reported it, before normalization. The
// returned error reports why parsing stopped early; the caller treats it as
// diagnostic only, the packet itself always passes.
func (p *Pipeline) Process(frame []byte, deviceID uint32, hookIngress bool, now time.Time) error {
	p.metrics.PacketsProcessed.Inc()

	pkt := NewPacketView(frame)
	eth, err := pkt.Ethernet()
	if err != nil {
		p.metrics.ParseErrors.Inc()
		return err
	}
	if eth.EtherType != EtherTypeIPv4 {
		p.metrics.PacketsSkipped.Inc()
		return nil
	}

	// Totals count every IPv4 frame at wire length, before the IP header
	// can reject it.
	p.addTotal(CounterPackets, 1)
	p.addTotal(CounterBytes, uint64(len(frame)))

	ip, err := pkt.IPv4(EthHeaderLen)
	if err != nil {
		p.metrics.ParseErrors.Inc()
		return err
	}

	// Every per-key counter below uses the IP total length; only the
	// totals above see the wire length.
	delta := uint64(ip.TotalLen)

	if err := p.ipStats.Upsert(IPKey(ip.SrcIP), func(v *uint64, _ bool) {
		*v += delta
	}); err != nil {
		p.metrics.TableFullDrops.Inc()
	}

	switch ip.Protocol {
	case ProtoTCP:
		th, err := pkt.TCP(EthHeaderLen + IPv4HeaderLen)
		if err != nil {
			p.metrics.ParseErrors.Inc()
			return err
		}
		p.handleTCP(ip, th, delta, now)
		p.accountPorts(th.SrcPort, th.DstPort, delta, now)
		p.accountDevice(deviceID, hookIngress, th.SrcPort, th.DstPort, ProtoTCP, delta, now)
	case ProtoUDP:
		uh, err := pkt.UDP(EthHeaderLen + IPv4HeaderLen)
		if err != nil {
			p.metrics.ParseErrors.Inc()
			return err
		}
		p.handleUDP(ip, uh, delta, now)
		p.accountPorts(uh.SrcPort, uh.DstPort, delta, now)
		p.accountDevice(deviceID, hookIngress, uh.SrcPort, uh.DstPort, ProtoUDP, delta, now)
	default:
		// Other transports stop at IP-level accounting.
	}
	return nil
}

func (p *Pipeline) addTotal(key CounterKey, delta uint64) {
	_ = p.totals.Upsert(key, func(v *uint64, _ bool) {
		*v += delta
	})
}

// accountPorts charges the packet to both endpoint ports, so a port's row
// reflects all traffic it took part in on either side.
func (p *Pipeline) accountPorts(sport, dport uint16, delta uint64, now time.Time) {
	ts := uint64(now.Unix())
	for _, port := range [2]uint16{sport, dport} {
		if err := p.ports.Upsert(PortKey(port), func(v *model.PortStats, _ bool) {
			v.Packets++
			v.Bytes += delta
			v.LastSeen = ts
		}); err != nil {
			p.metrics.TableFullDrops.Inc()
		}
	}
}

// accountDevice updates the device-scoped tables. Unregistered device ids
// are skipped entirely; IP and connection level accounting has already
// happened by the time this runs.
func (p *Pipeline) accountDevice(deviceID uint32, hookIngress bool, sport, dport uint16, proto uint8, delta uint64, now time.Time) {
	dev, ok := p.registry.LookupByID(deviceID)
	if !ok {
		return
	}
	dir := device.Normalize(dev.Paired, hookIngress)
	ts := uint64(now.Unix())

	if err := p.deviceDir.Upsert(NewDeviceDirKey(deviceID, dir), func(v *model.DeviceStats, _ bool) {
		v.Packets++
		v.Bytes += delta
		v.LastSeen = ts
	}); err != nil {
		p.metrics.TableFullDrops.Inc()
	}

	key := FoldDeviceConn(deviceID, sport, dport, dir, proto)
	if err := p.deviceConn.Upsert(key, func(v *model.DeviceConnStats, created bool) {
		if created {
			v.DeviceID = deviceID
			v.SrcPort = sport
			v.DstPort = dport
			v.Direction = dir
			v.Protocol = proto
		}
		v.Timestamp = ts
		v.Packets++
		v.Bytes += delta
	}); err != nil {
		p.metrics.TableFullDrops.Inc()
	}
}

// publish hands a flow event to the pump without ever blocking the packet
// path; a full channel drops the event and counts it.
func (p *Pipeline) publish(typ string, proto uint8, ip IPv4Header, sport, dport uint16, delta uint64, now time.Time) {
	if p.events == nil {
		return
	}
	ev := model.FlowEvent{
		Type:      typ,
		Protocol:  model.ProtocolName(proto),
		SrcIP:     model.IPString(ip.SrcIP),
		SrcPort:   sport,
		DstIP:     model.IPString(ip.DstIP),
		DstPort:   dport,
		Bytes:     delta,
		Timestamp: now,
	}
	select {
	case p.events <- ev:
	default:
		p.metrics.EventsDropped.Inc()
	}
}

// --- Read side ---

// Snapshot copies every table into the view served by the API and the
// snapshot writers. Each table is consistent per shard only; a snapshot
// taken mid-burst is best effort.
func (p *Pipeline) Snapshot(now time.Time) model.Snapshot {
	snap := model.Snapshot{TakenAt: now}
	snap.TotalPackets, _ = p.totals.Get(CounterPackets)
	snap.TotalBytes, _ = p.totals.Get(CounterBytes)

	for _, e := range p.ipStats.Snapshot() {
		snap.IPs = append(snap.IPs, model.IPEntry{
			IP:    model.IPString(uint32(e.Key)),
			Bytes: e.Value,
		})
	}
	sort.Slice(snap.IPs, func(i, j int) bool {
		return snap.IPs[i].Bytes > snap.IPs[j].Bytes
	})

	for _, e := range p.connStats.Snapshot() {
		state, _ := p.track.Get(e.Key)
		snap.Connections = append(snap.Connections, model.ConnEntry{
			SrcIP:   model.IPString(e.Key.SrcIP()),
			SrcPort: e.Key.SrcPort(),
			DstIP:   model.IPString(e.Key.DstIP()),
			DstPort: e.Key.DstPort(),
			State:   state.String(),
			Packets: e.Value.Packets,
			Bytes:   e.Value.Bytes,
		})
	}
	sort.Slice(snap.Connections, func(i, j int) bool {
		return snap.Connections[i].Bytes > snap.Connections[j].Bytes
	})

	for _, e := range p.ports.Snapshot() {
		snap.Ports = append(snap.Ports, model.PortEntry{
			Port:     uint16(e.Key),
			Packets:  e.Value.Packets,
			Bytes:    e.Value.Bytes,
			LastSeen: e.Value.LastSeen,
		})
	}
	sort.Slice(snap.Ports, func(i, j int) bool {
		return snap.Ports[i].Port < snap.Ports[j].Port
	})

	for _, e := range p.deviceDir.Snapshot() {
		snap.Devices = append(snap.Devices, p.deviceEntry(e.Key, e.Value))
	}
	sortDeviceEntries(snap.Devices)

	for _, e := range p.deviceConn.Snapshot() {
		snap.DeviceConns = append(snap.DeviceConns, deviceConnEntry(e.Value))
	}
	sort.Slice(snap.DeviceConns, func(i, j int) bool {
		return snap.DeviceConns[i].Bytes > snap.DeviceConns[j].Bytes
	})

	return snap
}

// DeviceSnapshot filters the device-scoped tables down to one device id.
func (p *Pipeline) DeviceSnapshot(id uint32, now time.Time) model.DeviceSnapshot {
	out := model.DeviceSnapshot{TakenAt: now, DeviceID: id}
	if dev, ok := p.registry.LookupByID(id); ok {
		out.Device = dev.Name
	}

	for _, e := range p.deviceDir.Snapshot() {
		if e.Key.DeviceID() != id {
			continue
		}
		out.Directions = append(out.Directions, p.deviceEntry(e.Key, e.Value))
	}
	sortDeviceEntries(out.Directions)

	for _, e := range p.deviceConn.Snapshot() {
		if e.Value.DeviceID != id {
			continue
		}
		out.Connections = append(out.Connections, deviceConnEntry(e.Value))
	}
	sort.Slice(out.Connections, func(i, j int) bool {
		return out.Connections[i].Bytes > out.Connections[j].Bytes
	})

	return out
}

// Reset drops all counters and tracking state. Used on unload.
func (p *Pipeline) Reset() {
	p.totals.Reset()
	p.ipStats.Reset()
	p.track.Reset()
	p.connStats.Reset()
	p.ports.Reset()
	p.deviceDir.Reset()
	p.deviceConn.Reset()
}

func (p *Pipeline) deviceEntry(key DeviceDirKey, v model.DeviceStats) model.DeviceEntry {
	entry := model.DeviceEntry{
		DeviceID:  key.DeviceID(),
		Direction: key.Direction().String(),
		Packets:   v.Packets,
		Bytes:     v.Bytes,
		LastSeen:  v.LastSeen,
	}
	if dev, ok := p.registry.LookupByID(key.DeviceID()); ok {
		entry.Device = dev.Name
	}
	return entry
}

func deviceConnEntry(v model.DeviceConnStats) model.DeviceConnEntry {
	return model.DeviceConnEntry{
		DeviceID:  v.DeviceID,
		SrcPort:   v.SrcPort,
		DstPort:   v.DstPort,
		Direction: v.Direction.String(),
		Protocol:  model.ProtocolName(v.Protocol),
		Timestamp: v.Timestamp,
		Packets:   v.Packets,
		Bytes:     v.Bytes,
	}
}

func sortDeviceEntries(entries []model.DeviceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DeviceID != entries[j].DeviceID {
			return entries[i].DeviceID < entries[j].DeviceID
		}
		return entries[i].Direction < entries[j].Direction
	})
}
