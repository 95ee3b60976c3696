package datapath

import (
	"testing"
	"time"

	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/internal/model"
)

var (
	hostA = ip4(10, 0, 0, 1)
	hostB = ip4(10, 0, 0, 2)

	testTime = time.Unix(1724500000, 0)
)

func newBarePipeline() *Pipeline {
	return NewPipeline(device.NewRegistry(), nil, nil)
}

func feed(t *testing.T, p *Pipeline, frame []byte) {
	t.Helper()
	if err := p.Process(frame, 0, true, testTime); err != nil {
		t.Fatalf("Failed to process frame: %v", err)
	}
}

func TestHandshakeReachesEstablished(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	// 1. SYN creates the forward record
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	if st, ok := p.track.Get(fwd); !ok || st != model.StateSynSeen {
		t.Fatalf("Expected SYN to leave state connecting, got %v (present=%v)", st, ok)
	}

	// 2. SYN+ACK from the peer promotes it through the reverse key
	feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagSyn|TCPFlagAck, 40))
	if st, _ := p.track.Get(fwd); st != model.StateEstablished {
		t.Fatalf("Expected established after SYN+ACK, got %v", st)
	}

	// 3. The final ACK changes nothing
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagAck, 40))
	if st, _ := p.track.Get(fwd); st != model.StateEstablished {
		t.Errorf("Expected established after bare ACK, got %v", st)
	}

	// 4. Each direction accumulated its own counters
	if cs, _ := p.connStats.Get(fwd); cs.Packets != 2 || cs.Bytes != 80 {
		t.Errorf("Expected forward counters {2, 80}, got {%d, %d}", cs.Packets, cs.Bytes)
	}
	if cs, _ := p.connStats.Get(fwd.Reverse()); cs.Packets != 1 || cs.Bytes != 40 {
		t.Errorf("Expected reverse counters {1, 40}, got {%d, %d}", cs.Packets, cs.Bytes)
	}
}

func TestResetWins(t *testing.T) {
	cases := []struct {
		name  string
		flags uint8
	}{
		{"pure rst", TCPFlagRst},
		{"rst with ack", TCPFlagRst | TCPFlagAck},
		{"rst beats fin", TCPFlagRst | TCPFlagFin},
		{"rst beats syn", TCPFlagRst | TCPFlagSyn | TCPFlagAck},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newBarePipeline()
			fwd := NewConnKey(hostA, hostB, 1000, 80)

			feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
			feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagSyn|TCPFlagAck, 40))
			feed(t, p, buildTCP(hostA, hostB, 1000, 80, tc.flags, 40))

			if st, _ := p.track.Get(fwd); st != model.StateReset {
				t.Errorf("Expected reset, got %v", st)
			}
		})
	}
}

func TestResetFromPeer(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagRst, 40))

	if st, _ := p.track.Get(fwd); st != model.StateReset {
		t.Errorf("Expected peer RST to reset the forward record, got %v", st)
	}
}

func TestFinAfterEstablished(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagSyn|TCPFlagAck, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagFin|TCPFlagAck, 40))

	if st, _ := p.track.Get(fwd); st != model.StateFinSeen {
		t.Errorf("Expected closing after FIN, got %v", st)
	}
}

func TestLateFinKeepsReset(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagRst, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagFin|TCPFlagAck, 40))

	if st, _ := p.track.Get(fwd); st != model.StateReset {
		t.Errorf("Expected reset to survive a late FIN, got %v", st)
	}
}

func TestSynReusesKeyAfterReset(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagRst, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))

	if st, _ := p.track.Get(fwd); st != model.StateSynSeen {
		t.Errorf("Expected a fresh SYN to reopen the record, got %v", st)
	}
}

func TestNonSynNeverCreatesRecord(t *testing.T) {
	flagSets := []uint8{
		TCPFlagAck,
		TCPFlagFin | TCPFlagAck,
		TCPFlagRst,
		TCPFlagSyn | TCPFlagAck,
	}

	for _, flags := range flagSets {
		p := newBarePipeline()
		fwd := NewConnKey(hostA, hostB, 1000, 80)

		feed(t, p, buildTCP(hostA, hostB, 1000, 80, flags, 40))

		if p.track.Contains(fwd) || p.track.Contains(fwd.Reverse()) {
			t.Errorf("Flags 0x%02x created a tracking record without a SYN", flags)
		}
		// Counters still accumulate under the anonymous record.
		if cs, ok := p.connStats.Get(fwd); !ok || cs.Packets != 1 || cs.Bytes != 40 {
			t.Errorf("Flags 0x%02x: expected anonymous counters {1, 40}, got {%d, %d}", flags, cs.Packets, cs.Bytes)
		}
	}
}

func TestMidStreamCounting(t *testing.T) {
	p := newBarePipeline()
	fwd := NewConnKey(hostA, hostB, 1000, 80)

	// Capture started mid-connection: data packets only.
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagAck, 1500))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagAck, 500))

	cs, ok := p.connStats.Get(fwd)
	if !ok {
		t.Fatal("Expected an anonymous stats record for mid-stream traffic")
	}
	if cs.Packets != 2 || cs.Bytes != 2000 {
		t.Errorf("Expected counters {2, 2000}, got {%d, %d}", cs.Packets, cs.Bytes)
	}
}

func TestTCPEvents(t *testing.T) {
	events := make(chan model.FlowEvent, 16)
	p := NewPipeline(device.NewRegistry(), nil, events)

	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagSyn, 40))
	feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagSyn|TCPFlagAck, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagAck, 40))
	feed(t, p, buildTCP(hostA, hostB, 1000, 80, TCPFlagFin|TCPFlagAck, 40))
	feed(t, p, buildTCP(hostB, hostA, 80, 1000, TCPFlagRst, 40))
	close(events)

	var types []string
	for ev := range events {
		if ev.Protocol != "tcp" {
			t.Errorf("Expected protocol tcp, got %q", ev.Protocol)
		}
		types = append(types, ev.Type)
	}

	want := []string{
		model.EventTCPSyn,
		model.EventTCPEstablished,
		model.EventTCPFin,
		model.EventTCPReset,
	}
	if len(types) != len(want) {
		t.Fatalf("Expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}
