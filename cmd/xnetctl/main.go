package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/laik/xnet/internal/config"
	"github.com/laik/xnet/internal/events"
	"github.com/laik/xnet/internal/model"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Base URL of the xnetd API")
	mode := flag.String("mode", "summary", "Mode: 'summary', 'stats', 'devices', 'device', 'add', 'remove' or 'events'")
	iface := flag.String("iface", "", "Interface name for 'add' and 'remove'")
	deviceID := flag.Uint("id", 0, "Device id for 'device' mode")
	natsURL := flag.String("nats", "nats://127.0.0.1:4222", "NATS server URL for 'events' mode")
	subject := flag.String("subject", "xnet.flow.events", "NATS subject for 'events' mode")
	flag.Parse()

	switch *mode {
	case "summary":
		printSummary(*addr)
	case "stats":
		get(*addr + "/api/v1/stats")
	case "devices":
		get(*addr + "/api/v1/devices")
	case "device":
		get(fmt.Sprintf("%s/api/v1/devices/%d/stats", *addr, *deviceID))
	case "add", "remove":
		if *iface == "" {
			log.Fatal("Error: -iface flag is required for this mode")
		}
		postDevice(*addr, *iface, *mode)
	case "events":
		watchEvents(*natsURL, *subject)
	default:
		log.Fatalf("Unknown mode: %s. Use 'summary', 'stats', 'devices', 'device', 'add', 'remove' or 'events'", *mode)
	}
}

func get(url string) {
	resp, err := http.Get(url)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func postDevice(addr, iface, action string) {
	reqBody, err := json.Marshal(map[string]string{"iface": iface, "action": action})
	if err != nil {
		log.Fatalf("Error marshalling request body: %v", err)
	}
	resp, err := http.Post(addr+"/api/v1/devices", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

// printSummary renders the traffic report: totals, busiest ports and
// addresses, and the established connections.
func printSummary(addr string) {
	resp, err := http.Get(addr + "/api/v1/stats")
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(body))
	}

	var snap model.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	fmt.Println("\n=== Traffic Summary ===")
	fmt.Printf("Taken at:      %s\n", snap.TakenAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Total packets: %d\n", snap.TotalPackets)
	fmt.Printf("Total bytes:   %.2f MB\n", float64(snap.TotalBytes)/(1024.0*1024.0))

	fmt.Println("\n--- Port Traffic (Top 20) ---")
	ports := append([]model.PortEntry(nil), snap.Ports...)
	sort.Slice(ports, func(i, j int) bool { return ports[i].Bytes > ports[j].Bytes })
	for i, p := range ports {
		if i >= 20 {
			break
		}
		fmt.Printf("port: %5d | packets: %8d | traffic: %10s | last seen: %d\n",
			p.Port, p.Packets, formatBytes(p.Bytes), p.LastSeen)
	}

	fmt.Println("\n--- IP Traffic (Top 10) ---")
	for i, e := range snap.IPs {
		if i >= 10 {
			break
		}
		fmt.Printf("IP: %-15s | traffic: %.2f MB\n", e.IP, float64(e.Bytes)/(1024.0*1024.0))
	}

	fmt.Println("\n--- Established Connections (Top 10) ---")
	established := 0
	for _, c := range snap.Connections {
		if c.State != "established" {
			continue
		}
		established++
		if established > 10 {
			continue
		}
		fmt.Printf("%s:%d -> %s:%d | state: %s | traffic: %.2f MB\n",
			c.SrcIP, c.SrcPort, c.DstIP, c.DstPort, c.State, float64(c.Bytes)/(1024.0*1024.0))
	}

	fmt.Printf("\nTotal connections:       %d\n", len(snap.Connections))
	fmt.Printf("Established connections: %d\n", established)
	fmt.Printf("Active ports:            %d\n", len(snap.Ports))
	fmt.Println("========================")
}

func formatBytes(n uint64) string {
	mb := float64(n) / (1024.0 * 1024.0)
	if mb >= 1.0 {
		return fmt.Sprintf("%.2f MB", mb)
	}
	return fmt.Sprintf("%.2f KB", float64(n)/1024.0)
}

// watchEvents subscribes to the flow-event stream and prints each event
// until interrupted.
func watchEvents(url, subject string) {
	sub, err := events.NewSubscriber(config.NATSConfig{URL: url, Subject: subject})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer sub.Close()

	err = sub.Start(func(ev model.FlowEvent) {
		fmt.Printf("[%s] %-15s %s %s:%d -> %s:%d len=%d\n",
			ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.Protocol,
			ev.SrcIP, ev.SrcPort, ev.DstIP, ev.DstPort, ev.Bytes)
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
}
