package datapath

import (
	"time"

	"github.com/laik/xnet/internal/model"
)

// handleTCP advances the connection state machine and the per-connection
// counters for one TCP packet.
//
// Counters first: every packet is charged to its forward tuple whether or
// not a handshake was ever observed, so mid-stream capture still yields
// usable byte totals under an anonymous record.
//
// State second, classified by flag priority RST > FIN > SYN+ACK > SYN
// (flags are not mutually exclusive on the wire). Only a SYN creates a
// tracking record; the other transitions touch records that already exist,
// on the packet's own key and on its reverse so the peer's view of the
// connection advances too. A stored RESET is never demoted to closing by a
// late FIN, but a fresh SYN may reuse the key for a new connection.
func (p *Pipeline) handleTCP(ip IPv4Header, tcp TCPHeader, delta uint64, now time.Time) {
	key := NewConnKey(ip.SrcIP, ip.DstIP, tcp.SrcPort, tcp.DstPort)

	if err := p.connStats.Upsert(key, func(v *model.ConnStats, _ bool) {
		v.Packets++
		v.Bytes += delta
	}); err != nil {
		p.metrics.TableFullDrops.Inc()
	}

	switch {
	case tcp.Flags&TCPFlagRst != 0:
		p.markBoth(key, model.StateReset)
		p.publish(model.EventTCPReset, ProtoTCP, ip, tcp.SrcPort, tcp.DstPort, delta, now)
	case tcp.Flags&TCPFlagFin != 0:
		p.markBoth(key, model.StateFinSeen)
		p.publish(model.EventTCPFin, ProtoTCP, ip, tcp.SrcPort, tcp.DstPort, delta, now)
	case tcp.Flags&TCPFlagSyn != 0 && tcp.Flags&TCPFlagAck != 0:
		p.markBoth(key, model.StateEstablished)
		p.publish(model.EventTCPEstablished, ProtoTCP, ip, tcp.SrcPort, tcp.DstPort, delta, now)
	case tcp.Flags&TCPFlagSyn != 0:
		if err := p.track.Upsert(key, func(v *model.ConnState, _ bool) {
			*v = model.StateSynSeen
		}); err != nil {
			p.metrics.TableFullDrops.Inc()
		}
		p.publish(model.EventTCPSyn, ProtoTCP, ip, tcp.SrcPort, tcp.DstPort, delta, now)
	}
}

// markBoth writes state to the existing tracking records of both
// directions. Absent records stay absent.
func (p *Pipeline) markBoth(key ConnKey, state model.ConnState) {
	p.markExisting(key, state)
	p.markExisting(key.Reverse(), state)
}

func (p *Pipeline) markExisting(key ConnKey, state model.ConnState) {
	p.track.Update(key, func(v *model.ConnState) {
		if *v == model.StateReset && state == model.StateFinSeen {
			return
		}
		*v = state
	})
}
