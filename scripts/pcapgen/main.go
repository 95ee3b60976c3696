package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Generates a synthetic capture file: TCP handshakes with a sprinkling of
// FIN and RST teardowns, plus bidirectional UDP flows. Useful as input for
// the offline analyzer in scripts/pcapana.
func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("c", 100, "Number of flows to generate")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ts := time.Now()
	packets := 0

	log.Printf("Generating %d flows into %s...", *flowCount, *outputFile)

	for i := 0; i < *flowCount; i++ {
		client := net.IP{10, 0, byte(rng.Intn(4)), byte(rng.Intn(254) + 1)}
		server := net.IP{10, 1, 0, byte(rng.Intn(254) + 1)}
		clientPort := uint16(rng.Intn(65535-1024) + 1024)

		if rng.Intn(4) == 0 {
			// One UDP exchange: request out, reply back.
			serverPort := uint16(53)
			packets += writePacket(w, rng, &ts, udpFrame(rng, client, server, clientPort, serverPort))
			packets += writePacket(w, rng, &ts, udpFrame(rng, server, client, serverPort, clientPort))
			continue
		}

		// TCP handshake, a few data segments, then FIN or RST.
		serverPort := uint16(80)
		packets += writePacket(w, rng, &ts, tcpFrame(rng, client, server, clientPort, serverPort, func(t *layers.TCP) { t.SYN = true }, 0))
		packets += writePacket(w, rng, &ts, tcpFrame(rng, server, client, serverPort, clientPort, func(t *layers.TCP) { t.SYN = true; t.ACK = true }, 0))
		packets += writePacket(w, rng, &ts, tcpFrame(rng, client, server, clientPort, serverPort, func(t *layers.TCP) { t.ACK = true }, 0))
		for n := rng.Intn(5); n > 0; n-- {
			packets += writePacket(w, rng, &ts, tcpFrame(rng, client, server, clientPort, serverPort, func(t *layers.TCP) { t.ACK = true }, rng.Intn(1400)+50))
		}
		if rng.Intn(10) == 0 {
			packets += writePacket(w, rng, &ts, tcpFrame(rng, server, client, serverPort, clientPort, func(t *layers.TCP) { t.RST = true }, 0))
		} else {
			packets += writePacket(w, rng, &ts, tcpFrame(rng, client, server, clientPort, serverPort, func(t *layers.TCP) { t.FIN = true; t.ACK = true }, 0))
		}
	}

	log.Printf("Done. Wrote %d packets.", packets)
}

func tcpFrame(rng *rand.Rand, src, dst net.IP, sport, dport uint16, setFlags func(*layers.TCP), payloadSize int) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src,
		DstIP:    dst,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     rng.Uint32(),
		Window:  14600,
	}
	setFlags(tcp)
	tcp.SetNetworkLayerForChecksum(ip)

	payload := make([]byte, payloadSize)
	rng.Read(payload)
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

func udpFrame(rng *rand.Rand, src, dst net.IP, sport, dport uint16) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    src,
		DstIP:    dst,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(sport),
		DstPort: layers.UDPPort(dport),
	}
	udp.SetNetworkLayerForChecksum(ip)

	payload := make([]byte, rng.Intn(200)+20)
	rng.Read(payload)
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		log.Fatalf("Failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}

func writePacket(w *pcapgo.Writer, rng *rand.Rand, ts *time.Time, data []byte) int {
	*ts = ts.Add(time.Duration(rng.Intn(900)+100) * time.Microsecond)
	ci := gopacket.CaptureInfo{
		Timestamp:     *ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.WritePacket(ci, data); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
	return 1
}
