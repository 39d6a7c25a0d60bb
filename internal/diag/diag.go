// Package diag exposes read-only introspection over HTTP/3, grounded
// on internal/runtime/netstack's http3.Server wrapper. It reports
// fault counters (TLB hits included), coremap occupancy, and swap
// occupancy for operators and tests; page-table-cache occupancy is not
// reported. It has no path into the fault handler and cannot
// influence paging decisions, matching spec.md's "no networked
// paging" non-goal.
package diag

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"

	"github.com/smukherj1/os161/internal/klog"
)

var log = klog.WithComponent(klog.Default, "diag")

// Source supplies the statistics diag serves. vm.Handler satisfies it
// through small adapter methods.
type Source interface {
	FaultStats() FaultStats
	CoreMapStats() CoreMapStats
	SwapStats() SwapStats
}

// FaultStats mirrors vm.Stats.
type FaultStats struct {
	TLBHits    uint64 `json:"tlb_hits"`
	MinorFault uint64 `json:"minor_faults"`
	MajorFault uint64 `json:"major_faults"`
	Protection uint64 `json:"protection_faults"`
}

// CoreMapStats summarizes frame-table occupancy.
type CoreMapStats struct {
	TotalFrames int `json:"total_frames"`
	FreeFrames  int `json:"free_frames"`
}

// SwapStats summarizes swap-table occupancy.
type SwapStats struct {
	TotalSlots int `json:"total_slots"`
	UsedSlots  int `json:"used_slots"`
}

// Server is an HTTP/3 introspection endpoint. It is started
// explicitly (cmd/vmdebug) and is never required for the VM core to
// function.
type Server struct {
	src  Source
	pc   net.PacketConn
	srv  *http3.Server
	errC chan error
}

// New builds a Server over src, serving JSON statistics at "/stats". tlsCfg follows netstack's HTTP3Server
// convention: TLS 1.3 is enforced, defaulting tlsCfg when nil.
func New(addr string, tlsCfg *tls.Config, src Source) *Server {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS13, NextProtos: []string{"h3"}}
	} else if tlsCfg.MinVersion < tls.VersionTLS13 {
		c := tlsCfg.Clone()
		c.MinVersion = tls.VersionTLS13
		if len(c.NextProtos) == 0 {
			c.NextProtos = []string{"h3"}
		}
		tlsCfg = c
	}

	s := &Server{src: src, errC: make(chan error, 1)}
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	s.srv = &http3.Server{
		Addr:       addr,
		TLSConfig:  tlsCfg,
		Handler:    mux,
		QUICConfig: &quic.Config{MaxIdleTimeout: QUICIdleTimeout},
	}
	return s
}

type statsPayload struct {
	Fault   FaultStats   `json:"fault"`
	CoreMap CoreMapStats `json:"coremap"`
	Swap    SwapStats    `json:"swap"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := statsPayload{
		Fault:   s.src.FaultStats(),
		CoreMap: s.src.CoreMapStats(),
		Swap:    s.src.SwapStats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode stats payload")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Start begins serving on an ephemeral UDP port if addr ends in ":0",
// returning the realized address. Mirrors netstack.HTTP3Server.Start.
func (s *Server) Start() (string, error) {
	var err error
	s.pc, err = net.ListenPacket("udp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	realAddr := s.pc.LocalAddr().String()
	go func() {
		if err := s.srv.Serve(s.pc); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}
	}()
	return realAddr, nil
}

// Stop closes the listening socket and waits briefly for Serve to
// return.
func (s *Server) Stop() error {
	if s.pc == nil {
		return nil
	}
	err := s.pc.Close()
	time.Sleep(10 * time.Millisecond)
	return err
}

// Error returns a non-blocking channel receiving the first serve
// error, if any.
func (s *Server) Error() <-chan error {
	return s.errC
}

// QUICIdleTimeout is the default idle timeout cmd/vmdebug applies via
// http3.Server.QUICConfig.MaxIdleTimeout.
const QUICIdleTimeout = 30 * time.Second
