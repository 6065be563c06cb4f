package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/hyunjk/darkpool/params"
	"github.com/hyunjk/darkpool/pkg/api"
	"github.com/hyunjk/darkpool/pkg/auction"
	"github.com/hyunjk/darkpool/pkg/storage"
	"github.com/hyunjk/darkpool/pkg/util"
)

func main() {
	// Config priority: flags > ENV > .env file > defaults.
	cfg := params.LoadFromEnv("")

	clients := flag.Int("n", cfg.Auction.Clients, "number of client agents")
	iterations := flag.Int("i", cfg.Auction.Iterations, "number of auction rounds")
	seed := flag.Int64("s", cfg.Node.Seed, "PRNG seed (0: from wall clock)")
	apiAddr := flag.String("api", cfg.Node.APIAddr, "API listen address (empty: disabled)")
	ledgerPath := flag.String("ledger", cfg.Node.LedgerPath, "pebble ledger path (empty: disabled)")
	verbose := flag.Bool("v", cfg.Node.Verbose, "verbose logging")
	flag.Parse()

	cfg.Auction.Clients = *clients
	cfg.Auction.Iterations = *iterations
	cfg.Node.Seed = *seed
	cfg.Node.APIAddr = *apiAddr
	cfg.Node.LedgerPath = *ledgerPath
	cfg.Node.Verbose = *verbose

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// With an API address the server comes up before the run, so /ws
	// clients see trades stream in as they execute.
	var apiSrv *api.Server
	apiErr := make(chan error, 1)
	var observers []auction.TradeObserver
	if cfg.Node.APIAddr != "" {
		apiSrv = api.NewServer(auction.Results{
			Iterations: cfg.Auction.Iterations,
			NumClients: cfg.Auction.Clients,
		})
		observers = append(observers, apiSrv.PublishTrade)
		go func() { apiErr <- apiSrv.Start(cfg.Node.APIAddr) }()
	}

	results, err := auction.RunExperiment(cfg, util.RealClock{}, sugar, observers...)
	if err != nil {
		sugar.Fatalw("experiment_failed", "err", err)
	}

	if cfg.Node.LedgerPath != "" {
		store, err := storage.NewLedgerStore(cfg.Node.LedgerPath)
		if err != nil {
			sugar.Fatalw("ledger_open_failed", "err", err)
		}
		if err := store.AppendAll(results.Trades); err != nil {
			sugar.Fatalw("ledger_write_failed", "err", err)
		}
		sugar.Infow("ledger_persisted", "path", cfg.Node.LedgerPath, "trades", store.Len())
		store.Close()
	}

	printBenchmarks(cfg, results)

	if apiSrv != nil {
		apiSrv.SetResults(results)
		sugar.Infow("api_serving", "addr", cfg.Node.APIAddr)
		if err := <-apiErr; err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}
}

func printBenchmarks(cfg params.Config, r auction.Results) {
	n := cfg.Auction.Iterations
	coord := r.Coordinator.PerIteration(n)
	clients := r.Clients.PerIteration(n)

	fmt.Println()
	fmt.Println("######## Microbenchmarks ########")
	fmt.Printf("Protocol Iterations: %d, Clients: %d\n", n, cfg.Auction.Clients)
	fmt.Printf("Orders received: %d, orders executed: %d, trades: %d, stalled iterations: %d\n",
		r.TotalOrders, r.ExecutedOrders, len(r.Trades), r.Stalled)
	fmt.Println()
	fmt.Println("Coordinator mean time per iteration...")
	fmt.Printf("    Place step:     %v\n", coord.Place)
	fmt.Printf("    Match step:     %v\n", coord.Match)
	fmt.Printf("    Reveal step:    %v\n", coord.Reveal)
	fmt.Printf("    Execute step:   %v\n", coord.Execute)
	fmt.Println()
	fmt.Println("Client mean time per iteration...")
	fmt.Printf("    Place step:     %v\n", perClient(clients.Place, cfg.Auction.Clients))
	fmt.Printf("    Match step:     %v\n", perClient(clients.Match, cfg.Auction.Clients))
	fmt.Printf("    Execute step:   %v\n", perClient(clients.Execute, cfg.Auction.Clients))
	fmt.Println()
}

func perClient(d time.Duration, n int) time.Duration {
	if n <= 0 {
		return d
	}
	return d / time.Duration(n)
}
