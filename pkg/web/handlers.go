package web

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dbehnke/packet-nexus/pkg/archive"
	"github.com/dbehnke/packet-nexus/pkg/codec"
	"github.com/dbehnke/packet-nexus/pkg/config"
	"github.com/dbehnke/packet-nexus/pkg/crc"
	"github.com/dbehnke/packet-nexus/pkg/logger"
	"github.com/dbehnke/packet-nexus/pkg/packetizer"
	"github.com/dbehnke/packet-nexus/pkg/profile"
)

type encodeRequest struct {
	Payload string `json:"payload"`
}

type decodeRequest struct {
	Packet string `json:"packet"`
}

type transmitRequest struct {
	Payload string `json:"payload"`
	Address string `json:"address"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", logger.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, packetizer.ErrLength), errors.Is(err, packetizer.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, packetizer.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":   s.version,
		"buildTime": s.buildTime,
		"uptime":    int(time.Since(s.startTime).Seconds()),
		"profiles":  s.manager.Count(),
	}
	if s.config != nil {
		response["linkProfile"] = s.config.Link.Profile
		response["linkEnabled"] = s.config.Link.Enabled
		response["archiveEnabled"] = s.config.Archive.Enabled
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.GetStats())
}

func (s *Server) handleSchemes(w http.ResponseWriter, r *http.Request) {
	var crcs, fecs []string
	for _, c := range crc.Schemes() {
		crcs = append(crcs, c.String())
	}
	for _, f := range codec.Schemes() {
		fecs = append(fecs, f.String())
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"crc": crcs,
		"fec": fecs,
	})
}

// handleLengths answers forward (n) and inverse (k) length queries
func (s *Server) handleLengths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	def := config.DefaultProfile()
	cfg := config.ProfileConfig{
		CRC:  valueOr(q.Get("crc"), def.CRC),
		FEC0: valueOr(q.Get("fec0"), def.FEC0),
		FEC1: valueOr(q.Get("fec1"), def.FEC1),
	}
	check, fec0, fec1, err := cfg.Schemes()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	response := map[string]interface{}{
		"crc":  check.String(),
		"fec0": fec0.String(),
		"fec1": fec1.String(),
	}

	if v := q.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("n must be a non-negative integer"))
			return
		}
		if n > packetizer.MaxMessageLength {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n must not exceed %d", packetizer.MaxMessageLength))
			return
		}
		response["n"] = n
		response["encoded_length"] = packetizer.EncodedLength(n, check, fec0, fec1)
	}
	if v := q.Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("k must be a non-negative integer"))
			return
		}
		if limit := packetizer.EncodedLength(packetizer.MaxMessageLength, check, fec0, fec1); k > limit {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("k must not exceed %d", limit))
			return
		}
		response["k"] = k
		response["decoded_length"] = packetizer.DecodedLength(k, check, fec0, fec1)
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.manager.List(),
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pr, err := s.manager.Get(name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"info":  pr.Info(),
		"stats": pr.Stats(),
	})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var cfg config.ProfileConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg.Name = mux.Vars(r)["name"]

	rebuilt, err := s.manager.Reconfigure(cfg)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	info, err := s.manager.Info(cfg.Name)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rebuilt": rebuilt,
		"info":    info,
	})
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	pkt, err := s.manager.Encode(mux.Vars(r)["name"], payload)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"packet": hex.EncodeToString(pkt),
		"length": len(pkt),
	})
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	pkt, err := hex.DecodeString(req.Packet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, valid, err := s.manager.Decode(mux.Vars(r)["name"], pkt)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"payload": hex.EncodeToString(payload),
		"valid":   valid,
	})
}

func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	link, arc := s.link, s.archive
	s.mu.RUnlock()
	if link == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("link not running"))
		return
	}

	// peers decode with the link profile, so nothing else may be sent
	name := mux.Vars(r)["name"]
	if name != link.Profile() {
		s.writeError(w, http.StatusConflict,
			fmt.Errorf("link transmits with profile %q, not %q", link.Profile(), name))
		return
	}

	var req transmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := net.ResolveUDPAddr("udp", req.Address)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	pkt, err := s.manager.Encode(name, payload)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := link.SendPacket(pkt, addr); err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	response := map[string]interface{}{
		"packet":  hex.EncodeToString(pkt),
		"address": addr.String(),
	}
	if arc != nil {
		id, err := arc.Put(archive.Record{
			Direction: archive.DirectionTx,
			Profile:   name,
			Peer:      addr.String(),
			Payload:   payload,
			Packet:    pkt,
			Valid:     true,
		})
		if err != nil {
			s.logger.Warn("Archive write failed", logger.Error(err))
		} else {
			response["id"] = id.String()
		}
		if s.metrics != nil {
			s.metrics.RecordArchiveWrite(err == nil)
		}
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	arc := s.archive
	s.mu.RUnlock()
	if arc == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("archive disabled"))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := arc.List(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
	})
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
