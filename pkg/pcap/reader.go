package pcap

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/laik/xnet/internal/datapath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Reader replays a capture file through the datapath, standing in for live
// capture during offline analysis.
type Reader struct {
	f *os.File
	r *pcapgo.Reader
}

// NewReader opens a pcap file for replay.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return &Reader{f: f, r: r}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.f.Close()
}

// Replay feeds every frame to the pipeline under the given device id and
// hook direction, using each packet's capture timestamp. It returns the
// number of frames fed.
func (r *Reader) Replay(pipe *datapath.Pipeline, deviceID uint32, hookIngress bool) (int, error) {
	source := gopacket.NewPacketSource(r.r, r.r.LinkType())
	count := 0
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read packet: %w", err)
		}

		ts := packet.Metadata().Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if err := pipe.Process(packet.Data(), deviceID, hookIngress, ts); err != nil {
			// Truncated or non-Ethernet frames are logged and skipped, the
			// replay itself keeps going.
			log.Printf("Error parsing packet: %v", err)
		}
		count++
	}
}
