package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"turnstile/cmd/internal/clientcli"
)

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, clientcli.ErrUsage) {
			fmt.Fprintln(os.Stderr, "turnstile-client:", err)
		}
		os.Exit(1)
	}
}

func run() error {
	cfg, err := clientcli.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cli := clientcli.New(cfg, clientcli.NewLogger(cfg.LogLevel), os.Stdin, os.Stdout)
	return cli.Run(ctx, os.Args[1:])
}
