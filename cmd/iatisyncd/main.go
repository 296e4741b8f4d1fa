package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lherron/iatisync/internal/cli"
)

func main() {
	addr := flag.String("addr", "", "Listen address (default IATISYNCD_ADDR or 127.0.0.1:7410)")
	unixPath := flag.String("unix", os.Getenv("IATISYNCD_UNIX"), "Listen on unix socket path")
	token := flag.String("token", "", "Shared token for local auth (default IATISYNCD_TOKEN)")
	dbPath := flag.String("db", "", "Database path override (defaults to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cli.DaemonOptions{
		Addr:   *addr,
		Unix:   *unixPath,
		Token:  *token,
		DBPath: *dbPath,
	}

	if err := cli.ServeDaemon(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
