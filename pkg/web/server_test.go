package web

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/packet-nexus/pkg/archive"
	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/crc"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/metrics"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
	"github.com/dbehnke/packet-nexus/pkg/profile"
)

type fakeLink struct {
	profile string

	mu   sync.Mutex
	sent [][]byte
	to   []*net.UDPAddr
}

func (l *fakeLink) Profile() string { return l.profile }

func (l *fakeLink) SendPacket(data []byte, addr *net.UDPAddr) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), data...))
	l.to = append(l.to, addr)
	return nil
}

func newTestServer(t *testing.T) (*Server, *profile.Manager) {
	t.Helper()
	m := profile.NewManager(logger.Nop(), nil)
	if _, err := m.Add(config.ProfileConfig{Name: "tlm", MessageLength: 8, CRC: "crc16", FEC0: "hamming74", FEC1: "none"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	t.Cleanup(m.Close)

	cfg := &config.Config{}
	cfg.Link.Profile = "tlm"
	cfg.Metrics.Path = "/metrics"

	s := NewServer(cfg, logger.Nop(), m, nil, "test", "now")
	return s, m
}

func start(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndInfo(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	var health map[string]string
	if code := doJSON(t, "GET", ts.URL+"/api/health", nil, &health); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got %q", health["status"])
	}

	var info map[string]interface{}
	doJSON(t, "GET", ts.URL+"/api/system/info", nil, &info)
	if info["version"] != "test" {
		t.Errorf("Expected version 'test', got %v", info["version"])
	}
	if info["profiles"].(float64) != 1 {
		t.Errorf("Expected 1 profile, got %v", info["profiles"])
	}
}

func TestSchemesAndLengths(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	var schemes struct {
		CRC []string `json:"crc"`
		FEC []string `json:"fec"`
	}
	doJSON(t, "GET", ts.URL+"/api/schemes", nil, &schemes)
	if !contains(schemes.CRC, "crc32") || !contains(schemes.FEC, "golay2412") {
		t.Errorf("Unexpected schemes: %+v", schemes)
	}

	var lengths map[string]interface{}
	code := doJSON(t, "GET", ts.URL+"/api/lengths?n=8&k=20&crc=crc16&fec0=hamming74&fec1=none", nil, &lengths)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if lengths["encoded_length"].(float64) != 20 {
		t.Errorf("Expected encoded length 20, got %v", lengths["encoded_length"])
	}
	if lengths["decoded_length"].(float64) != 8 {
		t.Errorf("Expected decoded length 8, got %v", lengths["decoded_length"])
	}

	if code := doJSON(t, "GET", ts.URL+"/api/lengths?n=1&fec0=turbo", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scheme, got %d", code)
	}
	if code := doJSON(t, "GET", ts.URL+"/api/lengths?n=-1", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative n, got %d", code)
	}
}

func TestLengthsLimits(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	const query = "&crc=crc32&fec0=hamming74&fec1=v27"
	limit := packetizer.EncodedLength(packetizer.MaxMessageLength, crc.CRC32, codec.Hamming74, codec.ConvV27)

	var lengths map[string]interface{}
	url := fmt.Sprintf("%s/api/lengths?n=%d&k=%d%s", ts.URL, packetizer.MaxMessageLength, limit, query)
	if code := doJSON(t, "GET", url, nil, &lengths); code != http.StatusOK {
		t.Fatalf("Expected 200 at the limits, got %d", code)
	}
	if lengths["encoded_length"].(float64) != float64(limit) {
		t.Errorf("Expected encoded length %d, got %v", limit, lengths["encoded_length"])
	}
	if lengths["decoded_length"].(float64) != float64(packetizer.MaxMessageLength) {
		t.Errorf("Expected decoded length %d, got %v", packetizer.MaxMessageLength, lengths["decoded_length"])
	}

	for _, q := range []string{
		fmt.Sprintf("n=%d", packetizer.MaxMessageLength+1),
		"n=9223372036854775807",
		fmt.Sprintf("k=%d", limit+1),
		"k=2000000000",
	} {
		if code := doJSON(t, "GET", ts.URL+"/api/lengths?"+q+query, nil, nil); code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", q, code)
		}
	}
}

func TestEncodeDecodeEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	payload := "0102030405060708"
	var enc struct {
		Packet string `json:"packet"`
		Length int    `json:"length"`
	}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/encode", map[string]string{"payload": payload}, &enc); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if enc.Length != 20 {
		t.Errorf("Expected packet length 20, got %d", enc.Length)
	}

	var dec struct {
		Payload string `json:"payload"`
		Valid   bool   `json:"valid"`
	}
	doJSON(t, "POST", ts.URL+"/api/profiles/tlm/decode", map[string]string{"packet": enc.Packet}, &dec)
	if !dec.Valid || dec.Payload != payload {
		t.Errorf("Expected valid %s, got %+v", payload, dec)
	}

	// corrupt one whole codeword byte into a different codeword
	raw, _ := hex.DecodeString(enc.Packet)
	raw[0] ^= 0x7F
	doJSON(t, "POST", ts.URL+"/api/profiles/tlm/decode", map[string]string{"packet": hex.EncodeToString(raw)}, &dec)
	if dec.Valid {
		t.Error("Expected corrupted packet to be invalid")
	}

	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/encode", map[string]string{"payload": "01"}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for short payload, got %d", code)
	}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/encode", map[string]string{"payload": "zz"}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad hex, got %d", code)
	}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/nope/encode", map[string]string{"payload": payload}, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown profile, got %d", code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	var list struct {
		Profiles []profile.Info `json:"profiles"`
	}
	doJSON(t, "GET", ts.URL+"/api/profiles", nil, &list)
	if len(list.Profiles) != 1 || list.Profiles[0].Config.Name != "tlm" {
		t.Fatalf("Unexpected profiles: %+v", list.Profiles)
	}

	if code := doJSON(t, "GET", ts.URL+"/api/profiles/tlm", nil, nil); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
	if code := doJSON(t, "GET", ts.URL+"/api/profiles/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}

	cfg := config.ProfileConfig{MessageLength: 8, CRC: "crc16", FEC0: "hamming74", FEC1: "none"}
	var resp struct {
		Rebuilt bool         `json:"rebuilt"`
		Info    profile.Info `json:"info"`
	}
	doJSON(t, "PUT", ts.URL+"/api/profiles/tlm", cfg, &resp)
	if resp.Rebuilt {
		t.Error("Identical settings should not rebuild")
	}

	cfg.FEC1 = "rep3"
	doJSON(t, "PUT", ts.URL+"/api/profiles/tlm", cfg, &resp)
	if !resp.Rebuilt {
		t.Error("Changed settings should rebuild")
	}
	if resp.Info.Description.PacketLength != 60 {
		t.Errorf("Expected packet length 60, got %d", resp.Info.Description.PacketLength)
	}

	cfg.FEC0 = "turbo"
	if code := doJSON(t, "PUT", ts.URL+"/api/profiles/tlm", cfg, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid scheme, got %d", code)
	}

	cfg.FEC0 = "rep5"
	cfg.FEC1 = "rep5"
	cfg.MessageLength = 1 << 60
	if code := doJSON(t, "PUT", ts.URL+"/api/profiles/tlm", cfg, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized message length, got %d", code)
	}
	var current struct {
		Info profile.Info `json:"info"`
	}
	if code := doJSON(t, "GET", ts.URL+"/api/profiles/tlm", nil, &current); code != http.StatusOK || current.Info.Description.PacketLength != 60 {
		t.Errorf("Expected previous layout to survive, got %d/%d", code, current.Info.Description.PacketLength)
	}
}

func TestTransmitAndArchive(t *testing.T) {
	s, m := newTestServer(t)
	ts := start(t, s)

	body := map[string]string{"payload": "0001020304050607", "address": "127.0.0.1:47000"}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/transmit", body, nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without link, got %d", code)
	}
	if code := doJSON(t, "GET", ts.URL+"/api/archive", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without archive, got %d", code)
	}

	link := &fakeLink{profile: "tlm"}
	s.SetLink(link)
	arc, err := archive.Open(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	defer arc.Close()
	s.SetArchive(arc)

	var resp map[string]interface{}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/transmit", body, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %v", code, resp)
	}

	link.mu.Lock()
	if len(link.sent) != 1 || link.to[0].Port != 47000 {
		t.Fatalf("Expected one packet to port 47000, got %d", len(link.sent))
	}
	sent := link.sent[0]
	link.mu.Unlock()

	payload, valid, err := m.Decode("tlm", sent)
	if err != nil || !valid || hex.EncodeToString(payload) != body["payload"] {
		t.Errorf("Transmitted packet did not decode: %x valid=%v err=%v", payload, valid, err)
	}

	var records struct {
		Records []archive.Record `json:"records"`
	}
	doJSON(t, "GET", ts.URL+"/api/archive?limit=10", nil, &records)
	if len(records.Records) != 1 {
		t.Fatalf("Expected 1 archived record, got %d", len(records.Records))
	}
	if records.Records[0].Direction != archive.DirectionTx || !bytes.Equal(records.Records[0].Packet, sent) {
		t.Errorf("Unexpected archived record: %+v", records.Records[0])
	}

	body["address"] = "not an address"
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/tlm/transmit", body, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad address, got %d", code)
	}
}

func TestTransmitRequiresLinkProfile(t *testing.T) {
	s, m := newTestServer(t)
	ts := start(t, s)
	if _, err := m.Add(config.ProfileConfig{Name: "alt", MessageLength: 8, CRC: "crc32", FEC0: "rep3", FEC1: "none"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	link := &fakeLink{profile: "tlm"}
	s.SetLink(link)

	body := map[string]string{"payload": "0001020304050607", "address": "127.0.0.1:47000"}
	if code := doJSON(t, "POST", ts.URL+"/api/profiles/alt/transmit", body, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 for a profile the link does not decode, got %d", code)
	}

	link.mu.Lock()
	defer link.mu.Unlock()
	if len(link.sent) != 0 {
		t.Errorf("Expected nothing sent, got %d packets", len(link.sent))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetMetrics(metrics.NewMetrics())
	ts := start(t, s)

	doJSON(t, "GET", ts.URL+"/api/health", nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(buf.String(), "/api/health") {
		t.Errorf("Expected instrumented endpoint in metrics output")
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	ts := start(t, s)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/api/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestWebSocketEvents(t *testing.T) {
	events := make(chan profile.Event, 16)
	s, m := newTestServer(t)
	s.eventChan = events
	ts := start(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.processEvents(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	read := func() WebSocketMessage {
		t.Helper()
		var msg WebSocketMessage
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != "profiles_update" {
		t.Errorf("Expected profiles_update first, got %q", msg.Type)
	}
	if msg := read(); msg.Type != "stats_update" {
		t.Errorf("Expected stats_update second, got %q", msg.Type)
	}

	// wait until the hub has registered the client
	deadline := time.Now().Add(2 * time.Second)
	for s.websocketHub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := m.Encode("tlm", make([]byte, 8)); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	events <- profile.Event{Type: profile.EventEncode, Profile: "tlm", Size: 20, Valid: true}

	msg := read()
	if msg.Type != "event" {
		t.Fatalf("Expected event message, got %q", msg.Type)
	}
	data := msg.Data.(map[string]interface{})
	if data["type"] != profile.EventEncode || data["profile"] != "tlm" {
		t.Errorf("Unexpected event payload: %v", data)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
