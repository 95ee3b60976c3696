package datapath

import (
	"time"

	"github.com/laik/xnet/internal/model"
)

// handleUDP tracks UDP exchanges as bidirectional pseudo-flows. The first
// packet seen in either direction classifies the flow as NEW and plants
// presence markers under both the forward and the reverse key, so every
// later packet either way classifies as DATA. Byte counters stay
// per-direction: each packet is charged to its own forward key only.
//
// Markers are never torn down; UDP has no close signal to key off.
func (p *Pipeline) handleUDP(ip IPv4Header, udp UDPHeader, delta uint64, now time.Time) {
	key := NewConnKey(ip.SrcIP, ip.DstIP, udp.SrcPort, udp.DstPort)
	rkey := key.Reverse()

	if !p.track.Contains(key) && !p.track.Contains(rkey) {
		mark := func(v *model.ConnState, _ bool) { *v = model.StateFlowSeen }
		if err := p.track.Upsert(key, mark); err != nil {
			p.metrics.TableFullDrops.Inc()
		}
		if err := p.track.Upsert(rkey, mark); err != nil {
			p.metrics.TableFullDrops.Inc()
		}
		p.publish(model.EventUDPNew, ProtoUDP, ip, udp.SrcPort, udp.DstPort, delta, now)
	} else {
		p.publish(model.EventUDPData, ProtoUDP, ip, udp.SrcPort, udp.DstPort, delta, now)
	}

	if err := p.connStats.Upsert(key, func(v *model.ConnStats, _ bool) {
		v.Packets++
		v.Bytes += delta
	}); err != nil {
		p.metrics.TableFullDrops.Inc()
	}
}
