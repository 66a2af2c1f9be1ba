// Command gk is the client: account login, lock/unlock and PIN management.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/and161185/gk-unlock/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg := config.DefaultClient()
	path := os.Getenv("GK_CONFIG")
	if path == "" {
		path = config.DefaultClientPath()
	}
	if err := config.LoadClientFile(path, &cfg); err != nil {
		fail(err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := newSession(cfg, bufio.NewReader(os.Stdin), os.Stdout)
	err := newRootCmd(s).ExecuteContext(ctx)
	s.shutdown()
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+err.Error())
	os.Exit(1)
}
