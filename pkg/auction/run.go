package auction

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/hyunjk/darkpool/params"
	"github.com/hyunjk/darkpool/pkg/sim"
	"github.com/hyunjk/darkpool/pkg/util"
)

// coordinatorID is agent 0; participants are 1..N, first half buying.
const coordinatorID sim.AgentID = 0

// TradeObserver is notified of each executed trade as it is recorded.
type TradeObserver func(TradeRecord)

// RunExperiment wires a coordinator and a participant population onto a
// fresh kernel, drives the protocol to completion and returns the results.
// Observers receive every trade the moment it executes.
func RunExperiment(cfg params.Config, clock util.Clock, log *zap.SugaredLogger, observers ...TradeObserver) (Results, error) {
	if err := cfg.Validate(); err != nil {
		return Results{}, fmt.Errorf("config: %w", err)
	}

	seed := cfg.Node.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Infow("experiment_start", "clients", cfg.Auction.Clients,
		"iterations", cfg.Auction.Iterations, "seed", seed)

	latency := sim.NewLatencyModel(cfg.Network.MinLatency, cfg.Network.MaxLatency,
		cfg.Network.Jitter, rand.New(rand.NewSource(rng.Int63())))
	kernel := sim.NewKernel(latency, 0, log)

	ids := make([]sim.AgentID, cfg.Auction.Clients)
	for i := range ids {
		ids[i] = sim.AgentID(i + 1)
	}

	coord := NewCoordinator(coordinatorID, kernel, ids, CoordinatorConfig{
		Iterations:     cfg.Auction.Iterations,
		PollInterval:   cfg.Auction.PollInterval,
		RevealInterval: cfg.Auction.RevealInterval,
		PhaseTimeout:   cfg.Auction.PhaseTimeout,
	}, rand.New(rand.NewSource(rng.Int63())), clock, log)
	for _, fn := range observers {
		coord.Observe(fn)
	}
	if err := kernel.Register(coord); err != nil {
		return Results{}, err
	}

	pcfg := ParticipantConfig{
		BatchSize:     cfg.Auction.BatchSize,
		MinReal:       cfg.Auction.MinReal,
		MaxReal:       cfg.Auction.MaxReal,
		BuyPriceLow:   cfg.Auction.BuyPriceLow,
		BuyPriceHigh:  cfg.Auction.BuyPriceHigh,
		SellPriceLow:  cfg.Auction.SellPriceLow,
		SellPriceHigh: cfg.Auction.SellPriceHigh,
	}

	clients := make([]*Participant, 0, cfg.Auction.Clients)
	for i, id := range ids {
		p := NewParticipant(id, i+1, kernel, coordinatorID, pcfg,
			rand.New(rand.NewSource(rng.Int63())), clock, log)
		if err := kernel.Register(p); err != nil {
			return Results{}, err
		}
		clients = append(clients, p)
	}

	coord.Start()
	if err := kernel.Run(); err != nil {
		return Results{}, fmt.Errorf("kernel: %w", err)
	}

	res := Results{
		Trades:         coord.Ledger(),
		Iterations:     cfg.Auction.Iterations,
		Stalled:        coord.StalledIterations(),
		TotalOrders:    coord.TotalOrders(),
		ExecutedOrders: coord.ExecutedOrders(),
		Coordinator:    coord.ElapsedTimings(),
		NumClients:     cfg.Auction.Clients,
	}
	for _, p := range clients {
		res.Clients.Merge(p.ElapsedTimings())
	}
	log.Infow("experiment_done", "trades", len(res.Trades),
		"executed_orders", res.ExecutedOrders, "stalled", res.Stalled,
		"virtual_time", kernel.Now())
	return res, nil
}
