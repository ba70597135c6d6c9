// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// yhmd is the You Have Mail polling daemon. It:
//  1. Loads configuration from config.yaml / YHM_* environment variables
//  2. Opens the encrypted SQLite state store
//  3. Wires the Proton Mail backend (plus an optional Redis change relay)
//  4. Polls every account on the configured interval
//  5. Serves a health check endpoint on :PORT
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yhmail/yhmail/internal/backend"
	"github.com/yhmail/yhmail/internal/config"
	"github.com/yhmail/yhmail/internal/crypto"
	"github.com/yhmail/yhmail/internal/notifier"
	"github.com/yhmail/yhmail/internal/orchestrator"
	"github.com/yhmail/yhmail/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("starting yhmd")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	key, err := crypto.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.DBPath, key)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid YHM_REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		relay := notifier.NewRedis(rdb)
		if err := relay.Ping(ctx); err != nil {
			slog.Warn("redis change relay unreachable, continuing without it", "error", err)
		} else {
			st.SetNotifier(relay)
			slog.Info("connected change relay to Redis", "url", cfg.RedisURL)
		}
	}

	protonBackend := backend.NewProtonBackend(st, backend.ProtonConfig{
		BaseURL:        cfg.ProtonBaseURL,
		AppVersion:     cfg.AppVersion,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		InsecureHTTP:   cfg.InsecureHTTP,
	})
	registry := backend.NewRegistry(protonBackend, backend.NewNullBackend())
	yhm := orchestrator.New(st, registry)

	if err := st.SetPollInterval(ctx, cfg.DefaultPollInterval); err != nil {
		slog.Warn("failed to seed default poll interval", "error", err)
	}

	go runPollLoop(ctx, yhm)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if rdb != nil {
			rdb.Close()
		}
	}()

	slog.Info("yhmd listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("yhmd stopped")
}

// runPollLoop re-reads the configured poll interval every cycle (so a
// SetPollInterval made while the daemon runs applies from the next
// cycle), sleeping via a timer the orchestrator itself has no notion of.
func runPollLoop(ctx context.Context, yhm *orchestrator.Yhm) {
	interval, err := yhm.PollInterval(ctx)
	if err != nil {
		slog.Error("failed to read initial poll interval", "error", err)
		return
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			outputs, err := yhm.Poll(ctx)
			if err != nil {
				slog.Error("poll cycle failed", "error", err)
			} else {
				slog.Info("poll cycle complete", "accounts", len(outputs))
			}

			next, err := yhm.PollInterval(ctx)
			if err != nil {
				slog.Warn("failed to reload poll interval, keeping previous", "error", err)
				next = interval
			}
			interval = next
			timer.Reset(interval)
		}
	}
}
