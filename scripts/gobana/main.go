package main

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"

	"github.com/laik/xnet/internal/model"
)

// Decodes a stats.gob file written by the gob snapshot writer and prints
// its contents.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana/main.go <gob_file>")
		os.Exit(1)
	}
	gobFile := os.Args[1]

	file, err := os.Open(gobFile)
	if err != nil {
		log.Fatalf("Unable to open file: %v", err)
	}
	defer file.Close()

	var snap model.Snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		log.Fatalf("Failed to decode gob data: %v", err)
	}

	fmt.Printf("Snapshot taken at %s\n", snap.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("totals: packets=%d bytes=%d\n", snap.TotalPackets, snap.TotalBytes)
	fmt.Printf("tables: ips=%d connections=%d ports=%d devices=%d device_conns=%d\n",
		len(snap.IPs), len(snap.Connections), len(snap.Ports), len(snap.Devices), len(snap.DeviceConns))

	fmt.Println("\nConnections:")
	for _, c := range snap.Connections {
		fmt.Printf("  %s:%d -> %s:%d state=%s packets=%d bytes=%d\n",
			c.SrcIP, c.SrcPort, c.DstIP, c.DstPort, c.State, c.Packets, c.Bytes)
	}
}
