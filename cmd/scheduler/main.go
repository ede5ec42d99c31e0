package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/message-scheduler/internal/api"
	"github.com/LeventeLantos/message-scheduler/internal/cache"
	"github.com/LeventeLantos/message-scheduler/internal/channel"
	"github.com/LeventeLantos/message-scheduler/internal/config"
	"github.com/LeventeLantos/message-scheduler/internal/dispatch"
	"github.com/LeventeLantos/message-scheduler/internal/model"
	"github.com/LeventeLantos/message-scheduler/internal/retry"
	"github.com/LeventeLantos/message-scheduler/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	waClient := channel.NewWhatsAppClient(cfg.WhatsApp.URL)

	senders := channel.Registry{
		model.KindWhatsAppText:  channel.NewWhatsAppTextSender(waClient),
		model.KindWhatsAppVideo: channel.NewWhatsAppVideoSender(waClient),
	}
	if cfg.SMTP.Enabled() {
		senders[model.KindEmail] = channel.NewEmailSender(channel.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	} else {
		slog.Warn("SMTP_HOST not set, email schedules will fail until configured")
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Interval:        cfg.Dispatch.Interval,
		ReclaimInterval: cfg.Dispatch.ReclaimInterval,
		StaleAfter:      cfg.Dispatch.StaleAfter,
		BatchSize:       cfg.Dispatch.BatchSize,
		Concurrency:     cfg.Dispatch.Concurrency,
		SendTimeout:     cfg.Dispatch.SendTimeout,
	}, st, senders, policy)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		outcomes := cache.NewRedisCache(rdb, cfg.Redis.TTL)
		dispatcher.WithOutcomeHook(func(ctx context.Context, s model.Schedule, sendErr error) {
			status := model.StatusSent
			reason := ""
			if sendErr != nil {
				status = model.StatusFailed
				reason = sendErr.Error()
			}
			if err := outcomes.StoreOutcome(ctx, s.ID, status, reason, time.Now()); err != nil {
				slog.Warn("failed to cache outcome", "id", s.ID, "error", err)
			}
		})
	}

	dispatcher.Start()
	defer dispatcher.Stop()

	handler := api.NewHandler(st, dispatcher, waClient)
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(handler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.PostgresURL)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
