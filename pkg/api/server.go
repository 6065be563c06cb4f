package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/hyunjk/darkpool/pkg/auction"
)

// Server exposes a simulation run over REST and WebSocket: the trade
// ledger, per-phase timings and a run summary. It can serve a live run,
// with trades fed in through PublishTrade and the final numbers swapped
// in via SetResults once the run finishes.
type Server struct {
	mu      sync.RWMutex
	results auction.Results
	router  *mux.Router
	hub     *Hub
}

func NewServer(results auction.Results) *Server {
	s := &Server{
		results: results,
		router:  mux.NewRouter(),
		hub:     NewHub(),
	}
	s.setupRoutes()
	go s.hub.Run()
	return s
}

// SetResults replaces the served results with a finished run's.
func (s *Server) SetResults(r auction.Results) {
	s.mu.Lock()
	s.results = r
	s.mu.Unlock()
}

// PublishTrade appends a freshly executed trade to the served ledger and
// fans it out to the connected WebSocket clients.
func (s *Server) PublishTrade(t auction.TradeRecord) {
	s.mu.Lock()
	s.results.Trades = append(s.results.Trades, t)
	s.mu.Unlock()
	s.hub.Broadcast(toTradeInfo(t))
}

func (s *Server) snapshot() auction.Results {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/timings", s.handleGetTimings).Methods("GET")
	api.HandleFunc("/summary", s.handleGetSummary).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving the API.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	log.Printf("[api] server starting on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func toTradeInfo(t auction.TradeRecord) TradeInfo {
	return TradeInfo{
		ID:           t.ID,
		Iteration:    t.Iteration,
		BuyIdentity:  t.BuyIdentity,
		BuyPrice:     t.BuyPrice,
		SellIdentity: t.SellIdentity,
		SellPrice:    t.SellPrice,
	}
}

func (s *Server) tradeInfos() []TradeInfo {
	r := s.snapshot()
	out := make([]TradeInfo, 0, len(r.Trades))
	for _, t := range r.Trades {
		out = append(out, toTradeInfo(t))
	}
	return out
}

func phaseTimings(t auction.Timings) PhaseTimings {
	return PhaseTimings{
		Place:   t.Place.Nanoseconds(),
		Match:   t.Match.Nanoseconds(),
		Reveal:  t.Reveal.Nanoseconds(),
		Execute: t.Execute.Nanoseconds(),
	}
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tradeInfos())
}

func (s *Server) handleGetTimings(w http.ResponseWriter, r *http.Request) {
	res := s.snapshot()
	writeJSON(w, map[string]PhaseTimings{
		"coordinator": phaseTimings(res.Coordinator.PerIteration(res.Iterations)),
		"clientMean":  phaseTimings(clientMean(res)),
	})
}

// clientMean averages the summed client accumulators over iterations and
// population size.
func clientMean(res auction.Results) auction.Timings {
	t := res.Clients.PerIteration(res.Iterations)
	if n := res.NumClients; n > 0 {
		t = auction.Timings{
			Place:   t.Place / time.Duration(n),
			Match:   t.Match / time.Duration(n),
			Reveal:  t.Reveal / time.Duration(n),
			Execute: t.Execute / time.Duration(n),
		}
	}
	return t
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	res := s.snapshot()
	writeJSON(w, RunSummary{
		Clients:        res.NumClients,
		Iterations:     res.Iterations,
		Stalled:        res.Stalled,
		TotalOrders:    res.TotalOrders,
		ExecutedOrders: res.ExecutedOrders,
		Trades:         len(res.Trades),
		Coordinator:    phaseTimings(res.Coordinator.PerIteration(res.Iterations)),
		ClientMean:     phaseTimings(clientMean(res)),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}
