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

// yhmctl is an operator CLI for the account store yhmd serves.
//
// Usage:
//
//	yhmctl add --email <email> --backend <name> --secret-file <path> [--proxy-file <path>]
//	yhmctl logout --email <email>
//	yhmctl delete --email <email>
//	yhmctl poll-once
//	yhmctl dump-events
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/yhmail/yhmail/internal/backend"
	"github.com/yhmail/yhmail/internal/config"
	"github.com/yhmail/yhmail/internal/crypto"
	"github.com/yhmail/yhmail/internal/orchestrator"
	"github.com/yhmail/yhmail/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid encryption key: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DBPath, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	protonBackend := backend.NewProtonBackend(st, backend.ProtonConfig{
		BaseURL:        cfg.ProtonBaseURL,
		AppVersion:     cfg.AppVersion,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		InsecureHTTP:   cfg.InsecureHTTP,
	})
	yhm := orchestrator.New(st, backend.NewRegistry(protonBackend, backend.NewNullBackend()))

	switch os.Args[1] {
	case "add":
		runAdd(ctx, yhm, os.Args[2:])
	case "logout":
		runLogout(ctx, yhm, os.Args[2:])
	case "delete":
		runDelete(ctx, yhm, os.Args[2:])
	case "poll-once":
		runPollOnce(ctx, yhm)
	case "dump-events":
		runDumpEvents(ctx, yhm)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: yhmctl <add|logout|delete|poll-once|dump-events> [flags]")
}

func runAdd(ctx context.Context, yhm *orchestrator.Yhm, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	email := fs.String("email", "", "account email (required)")
	backendName := fs.String("backend", "Proton Mail", "backend tag")
	secretFile := fs.String("secret-file", "", "path to a JSON auth record (required)")
	proxyFile := fs.String("proxy-file", "", "path to a JSON proxy descriptor (optional)")
	fs.Parse(args)

	if *email == "" || *secretFile == "" {
		fmt.Fprintln(os.Stderr, "add requires --email and --secret-file")
		os.Exit(1)
	}

	secret, err := os.ReadFile(*secretFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read secret file: %v\n", err)
		os.Exit(1)
	}

	var proxy *backend.Proxy
	if *proxyFile != "" {
		raw, err := os.ReadFile(*proxyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read proxy file: %v\n", err)
			os.Exit(1)
		}
		proxy = &backend.Proxy{}
		if err := json.Unmarshal(raw, proxy); err != nil {
			fmt.Fprintf(os.Stderr, "parse proxy file: %v\n", err)
			os.Exit(1)
		}
	}

	state, err := json.Marshal(map[string]any{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode initial state: %v\n", err)
		os.Exit(1)
	}

	if err := yhm.Add(ctx, *email, *backendName, secret, state, proxy); err != nil {
		fmt.Fprintf(os.Stderr, "add account: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("added %s (%s)\n", *email, *backendName)
}

func runLogout(ctx context.Context, yhm *orchestrator.Yhm, args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	email := fs.String("email", "", "account email (required)")
	fs.Parse(args)
	if *email == "" {
		fmt.Fprintln(os.Stderr, "logout requires --email")
		os.Exit(1)
	}
	if err := yhm.Logout(ctx, *email); err != nil {
		fmt.Fprintf(os.Stderr, "logout: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("logged out %s\n", *email)
}

func runDelete(ctx context.Context, yhm *orchestrator.Yhm, args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	email := fs.String("email", "", "account email (required)")
	fs.Parse(args)
	if *email == "" {
		fmt.Fprintln(os.Stderr, "delete requires --email")
		os.Exit(1)
	}
	if err := yhm.Delete(ctx, *email); err != nil {
		fmt.Fprintf(os.Stderr, "delete: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %s\n", *email)
}

func runPollOnce(ctx context.Context, yhm *orchestrator.Yhm) {
	outputs, err := yhm.Poll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poll: %v\n", err)
		os.Exit(1)
	}
	for _, o := range outputs {
		fmt.Printf("%s\t%s\t%s\n", o.Email, o.Backend, o.Event.Kind)
	}
}

func runDumpEvents(ctx context.Context, yhm *orchestrator.Yhm) {
	events, err := yhm.LastEvents(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dump-events: %v\n", err)
		os.Exit(1)
	}
	encoded, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode events: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
