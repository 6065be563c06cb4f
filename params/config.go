package params

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Auction struct {
	Clients    int // number of participants; first half buys, second half sells
	Iterations int // number of auction rounds to run

	BatchSize int // orders per participant per iteration
	MinReal   int // lower bound (inclusive) on genuine orders per batch
	MaxReal   int // upper bound (inclusive) on genuine orders per batch

	// Price bands. Buy and sell bands overlap but are offset so books do
	// not trivially cross on first contact.
	BuyPriceLow   int64
	BuyPriceHigh  int64
	SellPriceLow  int64
	SellPriceHigh int64

	// PollInterval paces Init/Matching re-polls; RevealInterval paces the
	// slower Reveal/Execute waits.
	PollInterval   time.Duration
	RevealInterval time.Duration

	// PhaseTimeout bounds how long a phase may wait on replies before the
	// iteration is declared stalled. Zero waits forever.
	PhaseTimeout time.Duration
}

type Network struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	Jitter     float64 // fraction of the link base delay
}

type Node struct {
	Seed       int64  // PRNG seed; 0 means derive from wall clock
	LedgerPath string // pebble database for the trade ledger; empty disables persistence
	APIAddr    string // listen address for the read-only API; empty disables it
	LogFile    string
	Verbose    bool
}

type Config struct {
	Auction Auction
	Network Network
	Node    Node
}

func Default() Config {
	return Config{
		Auction: Auction{
			Clients:        8,
			Iterations:     5,
			BatchSize:      8,
			MinReal:        5,
			MaxReal:        7,
			BuyPriceLow:    99,
			BuyPriceHigh:   101,
			SellPriceLow:   98,
			SellPriceHigh:  100,
			PollInterval:   time.Second,
			RevealInterval: 3 * time.Second,
			PhaseTimeout:   2 * time.Minute,
		},
		Network: Network{
			MinLatency: 21 * time.Microsecond,
			MaxLatency: 100 * time.Microsecond,
			Jitter:     0.3,
		},
		Node: Node{
			LedgerPath: "data/ledger",
			LogFile:    "data/darkpool.log",
		},
	}
}

// Validate rejects configurations the protocol cannot run with.
func (c Config) Validate() error {
	a := c.Auction
	if a.Clients < 2 || a.Clients%2 != 0 {
		return fmt.Errorf("clients must be an even number >= 2, got %d", a.Clients)
	}
	if a.Iterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", a.Iterations)
	}
	if a.MinReal < 1 || a.MaxReal < a.MinReal || a.MaxReal > a.BatchSize {
		return fmt.Errorf("real-order bounds [%d,%d] invalid for batch size %d", a.MinReal, a.MaxReal, a.BatchSize)
	}
	if a.BuyPriceHigh < a.BuyPriceLow || a.SellPriceHigh < a.SellPriceLow {
		return fmt.Errorf("price bands inverted")
	}
	return nil
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	getInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	getInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	getFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	getMs := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if ms, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(ms) * time.Millisecond
			}
		}
	}
	getUs := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if us, err := strconv.Atoi(v); err == nil {
				*dst = time.Duration(us) * time.Microsecond
			}
		}
	}

	getInt("DARKPOOL_CLIENTS", &cfg.Auction.Clients)
	getInt("DARKPOOL_ITERATIONS", &cfg.Auction.Iterations)
	getInt("DARKPOOL_BATCH_SIZE", &cfg.Auction.BatchSize)
	getInt("DARKPOOL_MIN_REAL", &cfg.Auction.MinReal)
	getInt("DARKPOOL_MAX_REAL", &cfg.Auction.MaxReal)
	getInt64("DARKPOOL_BUY_PRICE_LOW", &cfg.Auction.BuyPriceLow)
	getInt64("DARKPOOL_BUY_PRICE_HIGH", &cfg.Auction.BuyPriceHigh)
	getInt64("DARKPOOL_SELL_PRICE_LOW", &cfg.Auction.SellPriceLow)
	getInt64("DARKPOOL_SELL_PRICE_HIGH", &cfg.Auction.SellPriceHigh)
	getMs("DARKPOOL_POLL_MS", &cfg.Auction.PollInterval)
	getMs("DARKPOOL_REVEAL_MS", &cfg.Auction.RevealInterval)
	getMs("DARKPOOL_PHASE_TIMEOUT_MS", &cfg.Auction.PhaseTimeout)

	getUs("DARKPOOL_MIN_LATENCY_US", &cfg.Network.MinLatency)
	getUs("DARKPOOL_MAX_LATENCY_US", &cfg.Network.MaxLatency)
	getFloat("DARKPOOL_JITTER", &cfg.Network.Jitter)

	getInt64("DARKPOOL_SEED", &cfg.Node.Seed)
	if v := os.Getenv("DARKPOOL_LEDGER_PATH"); v != "" {
		cfg.Node.LedgerPath = v
	}
	if v := os.Getenv("DARKPOOL_API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Node.Verbose = v == "true"
	}

	return cfg
}
