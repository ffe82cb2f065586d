package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"likegate/pkg/config"
	"likegate/pkg/likeapi"
	"likegate/pkg/telegram"
	"likegate/pkg/telemetry"
)

// telegramClient is what *tgbotapi.BotAPI offers the transport and the poller.
type telegramClient interface {
	telegram.API
	telegram.Poller
}

// hooks are the process boundaries tests replace.
type hooks struct {
	openers
	initTelemetry func(context.Context, telemetry.Config) (func(context.Context) error, error)
	dialTelegram  func(token string, client *http.Client) (telegramClient, error)
	listen        func(*http.Server) error
	likes         likeapi.Sender
	maintainEvery time.Duration
}

func (h *hooks) defaults() {
	if h.initTelemetry == nil {
		h.initTelemetry = telemetry.Init
	}
	if h.dialTelegram == nil {
		h.dialTelegram = func(token string, client *http.Client) (telegramClient, error) {
			return telegram.Dial(token, client)
		}
	}
	if h.listen == nil {
		h.listen = func(s *http.Server) error { return s.ListenAndServe() }
	}
	if h.maintainEvery <= 0 {
		h.maintainEvery = 30 * time.Second
	}
}

var logFatalf = log.Fatalf

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logFatalf("likegate: config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, hooks{}); err != nil {
		logFatalf("likegate: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, h hooks) error {
	h.defaults()
	shutdownTelemetry, err := h.initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	a, err := buildApp(ctx, cfg, h.openers)
	if err != nil {
		return err
	}
	defer a.closeAll()

	tg, err := h.dialTelegram(cfg.BotToken, telemetry.InstrumentClient(&http.Client{
		Timeout: time.Duration(telegram.DefaultPollTimeout+30) * time.Second,
	}))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	likes := h.likes
	if likes == nil {
		likes = likeapi.NewClient(cfg.LikeAPIURL, cfg.LikeAPIKey, cfg.LikeAPITimeout, cfg.LikeAPIRetries)
	}
	d, err := a.dispatcher(telegram.NewTransport(tg), likes)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var server *http.Server
	if cfg.AdminAddr != "" {
		if cfg.AdminAuthToken == "" {
			log.Printf("admin: ADMIN_AUTH_TOKEN unset, every route except /healthz answers 401")
		}
		server = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           a.adminRouter(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			log.Printf("admin: listening on %s", cfg.AdminAddr)
			if err := h.listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("admin: listener stopped: %v", err)
			}
		}()
	}
	go a.maintain(runCtx, h.maintainEvery)

	log.Printf("likegate: started backend=%s owners=%d default_limit=%d tz=%s",
		cfg.StoreBackend, len(cfg.Owners.List()), cfg.DefaultLimit, cfg.Location)
	err = d.Run(runCtx, telegram.Updates(runCtx, tg, telegram.DefaultPollTimeout))
	cancel()

	if server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			log.Printf("admin: shutdown: %v", serr)
		}
		cancelShutdown()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Printf("likegate: stopped")
	return err
}
