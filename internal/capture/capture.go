package capture

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/datapath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Hook captures live traffic and feeds every frame to the pipeline, tagged
// with the hook-side direction. Each attachment opens two handles on the
// interface, one filtered to each direction, mirroring a paired
// ingress/egress traffic-control attachment.
type Hook struct {
	snapshotLen int32
	promiscuous bool
}

// NewHook creates a capture hook with the shared capture settings.
func NewHook(cfg config.CaptureConfig) *Hook {
	return &Hook{snapshotLen: cfg.SnapshotLen, promiscuous: cfg.Promiscuous}
}

// Attach opens both direction handles on iface and starts their capture
// loops. The returned closer stops the loops and releases the handles.
func (h *Hook) Attach(iface string, deviceID uint32, pipe *datapath.Pipeline) (io.Closer, error) {
	in, err := h.open(iface, pcap.DirectionIn)
	if err != nil {
		return nil, err
	}
	out, err := h.open(iface, pcap.DirectionOut)
	if err != nil {
		in.Close()
		return nil, err
	}

	a := &attachment{in: in, out: out}
	a.wg.Add(2)
	go a.loop(in, deviceID, true, pipe)
	go a.loop(out, deviceID, false, pipe)

	log.Printf("Capture started on %s (device id %d)", iface, deviceID)
	return a, nil
}

func (h *Hook) open(iface string, dir pcap.Direction) (*pcap.Handle, error) {
	handle, err := pcap.OpenLive(iface, h.snapshotLen, h.promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", iface, err)
	}
	if err := handle.SetDirection(dir); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set capture direction on %s: %w", iface, err)
	}
	return handle, nil
}

// attachment holds the two live handles of one attached interface.
type attachment struct {
	in  *pcap.Handle
	out *pcap.Handle
	wg  sync.WaitGroup
}

func (a *attachment) loop(handle *pcap.Handle, deviceID uint32, ingress bool, pipe *datapath.Pipeline) {
	defer a.wg.Done()
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		ts := packet.Metadata().Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		// Parse failures are counted inside the pipeline; the loop never
		// stops for one bad frame.
		_ = pipe.Process(packet.Data(), deviceID, ingress, ts)
	}
}

// Close releases both handles and waits for the capture loops to exit, so
// no Process call is in flight afterwards.
func (a *attachment) Close() error {
	a.in.Close()
	a.out.Close()
	a.wg.Wait()
	return nil
}
