// frame_sender encodes random payloads, optionally impairs them and sends
// them to a packet-nexus link while polling the HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dbehnke/packet-nexus/internal/testhelpers"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
)

func pollAPI(pollURL string, stop <-chan struct{}) {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			resp, err := client.Get(pollURL)
			if err != nil {
				log.Printf("poll error: %v", err)
				continue
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			var out bytes.Buffer
			if err := json.Indent(&out, body, "", "  "); err == nil {
				log.Printf("API: %s", out.String())
			} else {
				log.Printf("API: %s", strings.TrimSpace(string(body)))
			}
		}
	}
}

func main() {
	def := config.DefaultProfile()
	host := flag.String("host", "127.0.0.1", "link UDP host")
	port := flag.Int("port", 47000, "link UDP port")
	length := flag.Int("length", def.MessageLength, "message length")
	crcName := flag.String("crc", def.CRC, "CRC scheme")
	fec0Name := flag.String("fec0", def.FEC0, "inner FEC scheme")
	fec1Name := flag.String("fec1", def.FEC1, "outer FEC scheme")
	flips := flag.Int("flips", 0, "random bit errors injected per packet")
	burst := flag.Int("burst", 0, "burst error length in bits injected per packet")
	count := flag.Int("count", 50, "number of packets to send")
	interval := flag.Duration("interval", 20*time.Millisecond, "interval between packets")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	pollURL := flag.String("poll", "http://localhost:8080/api/stats", "API URL to poll (empty disables)")
	flag.Parse()

	pc := config.ProfileConfig{MessageLength: *length, CRC: *crcName, FEC0: *fec0Name, FEC1: *fec1Name}
	check, fec0, fec1, err := pc.Schemes()
	if err != nil {
		log.Fatalf("invalid schemes: %v", err)
	}
	p, err := packetizer.New(pc.MessageLength, check, fec0, fec1)
	if err != nil {
		log.Fatalf("failed to build packetizer: %v", err)
	}
	defer p.Close()

	addr := net.UDPAddr{IP: net.ParseIP(*host), Port: *port}
	conn, err := net.DialUDP("udp", nil, &addr)
	if err != nil {
		log.Fatalf("failed to dial UDP %s:%d: %v", *host, *port, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Printf("failed to close UDP conn: %v", err)
		}
	}()
	log.Printf("sending %d packets of %d bytes to %s\n%s", *count, p.PacketLength(), conn.RemoteAddr(), p)

	stopPoll := make(chan struct{})
	if *pollURL != "" {
		go pollAPI(*pollURL, stopPoll)
	}

	rng := testhelpers.NewRand(*seed)
	msg := make([]byte, p.MessageLength())
	pkt := make([]byte, p.PacketLength())
	for i := 0; i < *count; i++ {
		rng.Read(msg)
		if err := p.Encode(msg, pkt); err != nil {
			log.Fatalf("encode: %v", err)
		}
		if *flips > 0 {
			testhelpers.FlipRandomBits(pkt, *flips, rng)
		}
		if *burst > 0 && len(pkt) > 0 {
			testhelpers.Burst(pkt, rng.Intn(len(pkt)*8), *burst)
		}
		if _, err := conn.Write(pkt); err != nil {
			log.Printf("write packet error: %v", err)
		}
		time.Sleep(*interval)
	}

	// allow one more poll
	time.Sleep(1100 * time.Millisecond)
	close(stopPoll)
}
