package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"likegate/pkg/access"
	"likegate/pkg/audit"
	"likegate/pkg/bot"
	"likegate/pkg/config"
	"likegate/pkg/eventbus"
	"likegate/pkg/flow"
	"likegate/pkg/likeapi"
	"likegate/pkg/metrics"
	"likegate/pkg/quota"
	"likegate/pkg/ratelimit"
	"likegate/pkg/store"
	"likegate/pkg/stream"
)

// openers lets tests swap the network dependencies.
type openers struct {
	redis    func(context.Context, store.RedisConfig) (*redis.Client, error)
	postgres func(ctx context.Context, dsn string, requireTLS bool) (*pgxpool.Pool, error)
	kafka    func(eventbus.KafkaConfig) (eventbus.Publisher, error)
}

func (o *openers) defaults() {
	if o.redis == nil {
		o.redis = store.NewRedis
	}
	if o.postgres == nil {
		o.postgres = store.NewPostgresPool
	}
	if o.kafka == nil {
		o.kafka = func(cfg eventbus.KafkaConfig) (eventbus.Publisher, error) {
			return eventbus.NewKafkaPublisher(cfg)
		}
	}
}

// app is everything the bot and the admin API share.
type app struct {
	cfg          config.Config
	store        *store.Store
	ledger       *quota.Ledger
	groups       *access.Groups
	verification *access.Verification
	gate         *access.Gate
	flow         *flow.Controller
	limiter      ratelimit.Limiter
	metrics      *metrics.Registry
	hub          *stream.Hub
	events       eventbus.Publisher
	audit        audit.Sink
	auditLog     *audit.Writer
	closers      []func()
}

func buildApp(ctx context.Context, cfg config.Config, o openers) (a *app, err error) {
	o.defaults()
	a = &app{
		cfg:     cfg,
		metrics: metrics.NewRegistry(),
		hub:     stream.NewHub(),
		events:  eventbus.Nop{},
		audit:   audit.LogSink{},
	}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	var (
		rdb  *redis.Client
		pool *pgxpool.Pool
	)
	if cfg.StoreBackend == config.BackendRedis || cfg.Redis.Addr != "" {
		rdb, err = o.redis(ctx, cfg.Redis)
		if err != nil {
			return a, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}
	if cfg.StoreBackend == config.BackendPostgres || cfg.DatabaseURL != "" {
		pool, err = o.postgres(ctx, cfg.DatabaseURL, cfg.DatabaseRequireTLS)
		if err != nil {
			return a, fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
	}

	var backend store.Backend
	switch cfg.StoreBackend {
	case config.BackendRedis:
		backend = store.NewRedisBackend(rdb, cfg.RedisKey)
	case config.BackendPostgres:
		pg := store.NewPostgresBackend(pool, "default")
		if err = pg.EnsureSchema(ctx); err != nil {
			return a, fmt.Errorf("snapshot schema: %w", err)
		}
		backend = pg
	default:
		backend = store.NewFileBackend(filepath.Clean(cfg.DataFile))
	}
	if a.store, err = store.Open(ctx, backend, cfg.Location); err != nil {
		return a, err
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.store.Close(ctx); err != nil {
			log.Printf("likegate: final flush failed: %v", err)
		}
	})

	if a.ledger, err = quota.New(a.store, cfg.Owners, quota.Config{DefaultLimit: cfg.DefaultLimit, Location: cfg.Location}); err != nil {
		return a, err
	}
	if removed, err := a.ledger.PruneBefore(ctx, cfg.RetentionDays); err != nil {
		log.Printf("likegate: prune usage: %v", err)
	} else if removed > 0 {
		log.Printf("likegate: pruned %d usage buckets older than %d days", removed, cfg.RetentionDays)
	}
	a.groups = access.NewGroups(a.store, nil)
	a.verification = access.NewVerification(a.store, cfg.Owners, nil)
	a.gate = access.NewGate(cfg.Owners, a.groups, a.verification, a.ledger)
	a.flow = flow.NewController(a.verification, flow.Config{BroadcastTTL: cfg.BroadcastTTL})

	if rdb != nil {
		a.limiter = ratelimit.NewRedis(rdb, cfg.FloodLimit, cfg.FloodWindow)
	} else {
		a.limiter = ratelimit.NewInMemory(cfg.FloodLimit, cfg.FloodWindow)
	}

	if pool != nil {
		w := &audit.Writer{DB: pool, Redact: cfg.AuditRedact, HashSalt: []byte(cfg.AuditHashSalt)}
		if err = w.EnsureSchema(ctx); err != nil {
			return a, fmt.Errorf("audit schema: %w", err)
		}
		a.auditLog, a.audit = w, w
	}

	if cfg.KafkaEnabled {
		pub, err := o.kafka(eventbus.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			return a, fmt.Errorf("kafka: %w", err)
		}
		a.events = pub
		a.closers = append(a.closers, func() { _ = pub.Close() })
	}
	return a, nil
}

func (a *app) dispatcher(t bot.Transport, likes likeapi.Sender) (*bot.Dispatcher, error) {
	return bot.New(bot.Deps{
		Transport:     t,
		Gate:          a.gate,
		Groups:        a.groups,
		Verification:  a.verification,
		Ledger:        a.ledger,
		Flow:          a.flow,
		Store:         a.store,
		Likes:         likes,
		Limiter:       a.limiter,
		Metrics:       a.metrics,
		Hub:           a.hub,
		Events:        a.events,
		Audit:         a.audit,
		Links:         a.cfg.Links,
		Workers:       a.cfg.Workers,
		NoticeTTL:     bot.DefaultNoticeTTL,
		BroadcastPace: 50 * time.Millisecond,
	})
}

// maintain expires stale broadcasts and retries failed snapshot writes until ctx ends.
func (a *app) maintain(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *app) tick(ctx context.Context) {
	if n := a.flow.Sweep(); n > 0 {
		for i := 0; i < n; i++ {
			a.metrics.IncBroadcast(flow.Expired)
		}
		log.Printf("likegate: expired %d pending broadcasts", n)
	}
	a.metrics.SetGauge("broadcasts_pending", float64(a.flow.Pending()))
	a.metrics.SetGauge("stream_subscribers", float64(a.hub.Subscribers()))
	a.metrics.SetGauge("known_users", float64(len(a.store.KnownUsers())))
	if a.store.Dirty() {
		a.metrics.SetGauge("store_dirty", 1)
		if err := a.store.Flush(ctx); err != nil {
			log.Printf("likegate: snapshot retry failed: %v", err)
			return
		}
	}
	a.metrics.SetGauge("store_dirty", 0)
}

// closeAll releases resources in reverse order of acquisition.
func (a *app) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

var errNoAuditLog = errors.New("audit log requires DATABASE_URL")
