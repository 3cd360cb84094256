package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kale-pool/pooler/coordinator"
	"github.com/kale-pool/pooler/monitor"
	"github.com/rs/cors"
)

// StatusProvider is the subset of *coordinator.Coordinator the status
// endpoint needs.
type StatusProvider interface {
	Status() coordinator.StatusSnapshot
}

// MinerStatus reports whether the Miner Runner currently has a live child.
type MinerStatus interface {
	Running() bool
}

// DiscoveryHistory exposes the Block Monitor's recent-discoveries ring for
// the status surface. Optional: a Server with no history set simply omits
// the field from its response.
type DiscoveryHistory interface {
	RecentDiscoveries() []monitor.DiscoveryEvent
}

// Server wires the inbound Backend-facing endpoints behind a CORS-enabled
// HTTP mux.
type Server struct {
	httpServer *http.Server
	inbound    *Inbound
	status     StatusProvider
	miner      MinerStatus
	history    DiscoveryHistory
}

// SetDiscoveryHistory wires the Block Monitor's recent-discoveries accessor
// into the /status/work response.
func (s *Server) SetDiscoveryHistory(h DiscoveryHistory) {
	s.history = h
}

// NewServer builds the HTTP server; it does not start listening.
func NewServer(addr string, inbound *Inbound, status StatusProvider, minerStatus MinerStatus) *Server {
	s := &Server{inbound: inbound, status: status, miner: minerStatus}

	mux := http.NewServeMux()
	mux.HandleFunc("/backend/planting-status", inbound.HandlePlantingStatus)
	mux.HandleFunc("/backend/planted-farmers", inbound.HandlePlantedFarmers)
	mux.HandleFunc("/health", inbound.HandleHealth)
	mux.HandleFunc("/status/work", s.handleStatusWork)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(mux)

	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	return s
}

func (s *Server) handleStatusWork(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Status()
	body := map[string]any{
		"pendingBlocks": snap.PendingBlocks,
		"activeBlocks":  snap.ActiveBlocks,
		"minerRunning":  s.miner.Running(),
	}
	if s.history != nil {
		body["recentDiscoveries"] = s.history.RecentDiscoveries()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Start listens in the background; call Shutdown to stop it.
func (s *Server) Start() {
	go func() {
		log.Info("Inbound HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Inbound HTTP server failed", "err", err)
		}
	}()
}

// Shutdown gracefully stops accepting new requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown inbound server: %w", err)
	}
	return nil
}
