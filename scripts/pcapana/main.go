package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/laik/xnet/internal/datapath"
	"github.com/laik/xnet/internal/device"
	"github.com/laik/xnet/pkg/pcap"
)

// Replays a capture file through the full datapath and prints the resulting
// statistics tables. Every frame is accounted as ingress on a synthetic
// device.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := os.Args[1]

	reader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatalf("Failed to open pcap file: %v", err)
	}
	defer reader.Close()

	registry := device.NewRegistry()
	if err := registry.Register("pcap0", 1, false); err != nil {
		log.Fatalf("Failed to register replay device: %v", err)
	}
	pipe := datapath.NewPipeline(registry, nil, nil)

	log.Printf("Reading packets from '%s'...", pcapFilePath)
	count, err := reader.Replay(pipe, 1, true)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	log.Printf("Replayed %d packets.", count)

	snap := pipe.Snapshot(time.Now())

	fmt.Printf("\n==== Totals ====\n")
	fmt.Printf("packets=%d bytes=%d\n", snap.TotalPackets, snap.TotalBytes)

	fmt.Printf("\n==== Top IPs (%d) ====\n", len(snap.IPs))
	for i, e := range snap.IPs {
		if i >= 10 {
			fmt.Printf("... and %d more\n", len(snap.IPs)-i)
			break
		}
		fmt.Printf("%-16s %d bytes\n", e.IP, e.Bytes)
	}

	fmt.Printf("\n==== Connections (%d) ====\n", len(snap.Connections))
	for i, c := range snap.Connections {
		if i >= 20 {
			fmt.Printf("... and %d more\n", len(snap.Connections)-i)
			break
		}
		fmt.Printf("%s:%d -> %s:%d state=%s packets=%d bytes=%d\n",
			c.SrcIP, c.SrcPort, c.DstIP, c.DstPort, c.State, c.Packets, c.Bytes)
	}

	fmt.Printf("\n==== Ports (%d) ====\n", len(snap.Ports))
	for i, p := range snap.Ports {
		if i >= 10 {
			fmt.Printf("... and %d more\n", len(snap.Ports)-i)
			break
		}
		fmt.Printf("port %-5d packets=%d bytes=%d\n", p.Port, p.Packets, p.Bytes)
	}

	fmt.Printf("\n==== Devices ====\n")
	for _, d := range snap.Devices {
		fmt.Printf("%s(%d) %s packets=%d bytes=%d\n", d.Device, d.DeviceID, d.Direction, d.Packets, d.Bytes)
	}
}
