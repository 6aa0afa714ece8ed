// Package main is hitgen, a synthetic hit generator that publishes directly
// to the ingestion queue. Useful for exercising the consumer, the dedup
// path, and the dead-letter topology without an HTTP front end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/apipulse/apipulse/internal/broker"
	"github.com/apipulse/apipulse/internal/config"
	"github.com/apipulse/apipulse/pkg/models"
)

type options struct {
	total       int
	rate        int
	concurrency int
	dupPercent  int
	clients     int
}

func parseFlags() options {
	var o options
	flag.IntVar(&o.total, "total", 10000, "Total hits to publish")
	flag.IntVar(&o.rate, "rate", 500, "Hits per second")
	flag.IntVar(&o.concurrency, "concurrency", 8, "Publisher worker count")
	flag.IntVar(&o.dupPercent, "duplication-percent", 0, "Percent of hits re-sent with an already-used event_id")
	flag.IntVar(&o.clients, "clients", 3, "Number of synthetic client identities")
	flag.Parse()

	if o.dupPercent < 0 {
		o.dupPercent = 0
	}
	if o.dupPercent > 100 {
		o.dupPercent = 100
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.clients < 1 {
		o.clients = 1
	}
	return o
}

type stats struct {
	ok     atomic.Uint64
	errors atomic.Uint64
}

func (s *stats) logLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastOK, lastErr uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, errs := s.ok.Load(), s.errors.Load()
			slog.Info("publishing",
				"ok_per_sec", ok-lastOK,
				"err_per_sec", errs-lastErr,
				"total_ok", ok,
				"total_err", errs,
			)
			lastOK, lastErr = ok, errs
		}
	}
}

// hitPool remembers recent event IDs so a configurable share of traffic can
// replay them and exercise the dedup path.
type hitPool struct {
	mu  sync.RWMutex
	ids []string
	max int
}

func (p *hitPool) add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ids) >= p.max {
		p.ids = p.ids[1:]
	}
	p.ids = append(p.ids, id)
}

func (p *hitPool) random(rng *rand.Rand) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.ids) == 0 {
		return "", false
	}
	return p.ids[rng.Intn(len(p.ids))], true
}

var (
	services  = []string{"billing", "catalog", "auth", "shipping"}
	endpoints = []string{"/v1/invoices", "/v1/items", "/v1/login", "/v1/track"}
	methods   = []string{"GET", "POST", "PUT", "DELETE"}
	statuses  = []int{200, 200, 200, 201, 204, 400, 404, 500, 503}
)

func randomHit(rng *rand.Rand, clientID, apiKeyID string) *models.Hit {
	return &models.Hit{
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC().Add(-time.Duration(rng.Intn(60)) * time.Second),
		ServiceName: services[rng.Intn(len(services))],
		Endpoint:    endpoints[rng.Intn(len(endpoints))],
		Method:      methods[rng.Intn(len(methods))],
		StatusCode:  statuses[rng.Intn(len(statuses))],
		LatencyMs:   int64(rng.Intn(900) + 1),
		ClientID:    clientID,
		APIKeyID:    apiKeyID,
		IP:          fmt.Sprintf("10.%d.%d.%d", rng.Intn(255), rng.Intn(255), rng.Intn(255)),
		UserAgent:   "hitgen/1.0",
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := broker.NewManager(cfg.Broker)
	defer mgr.Close()
	if _, err := mgr.Connect(ctx); err != nil {
		slog.Error("connect broker", "error", err)
		os.Exit(1)
	}
	publisher := broker.NewPublisher(mgr, cfg.Broker)

	// Synthetic identities shared by all workers.
	clientIDs := make([]string, opts.clients)
	apiKeyIDs := make([]string, opts.clients)
	for i := range clientIDs {
		clientIDs[i] = uuid.NewString()
		apiKeyIDs[i] = uuid.NewString()
	}

	st := &stats{}
	go st.logLoop(ctx)

	pool := &hitPool{max: 10000}
	jobs := make(chan struct{}, opts.rate*2)
	var wg sync.WaitGroup

	seed := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < opts.concurrency; i++ {
		rng := rand.New(rand.NewSource(seed.Int63()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				n := rng.Intn(len(clientIDs))
				hit := randomHit(rng, clientIDs[n], apiKeyIDs[n])
				if opts.dupPercent > 0 && rng.Intn(100) < opts.dupPercent {
					if id, ok := pool.random(rng); ok {
						hit.EventID = id
					}
				} else {
					pool.add(hit.EventID)
				}

				if err := publisher.PublishHit(ctx, hit); err != nil {
					st.errors.Add(1)
				} else {
					st.ok.Add(1)
				}
			}
		}()
	}

	slog.Info("starting hit generation",
		"total", opts.total,
		"rate", opts.rate,
		"workers", opts.concurrency,
		"duplication_percent", opts.dupPercent,
	)

	// One batch per second until the budget is spent or interrupted.
	remaining := opts.total
loop:
	for remaining > 0 {
		start := time.Now()
		batch := opts.rate
		if remaining < batch {
			batch = remaining
		}
		for i := 0; i < batch; i++ {
			select {
			case jobs <- struct{}{}:
			case <-ctx.Done():
				break loop
			}
		}
		remaining -= batch

		if elapsed := time.Since(start); elapsed < time.Second {
			select {
			case <-time.After(time.Second - elapsed):
			case <-ctx.Done():
				break loop
			}
		}
	}

	close(jobs)
	wg.Wait()
	slog.Info("done", "total_ok", st.ok.Load(), "total_err", st.errors.Load())
}
