// Command memsnap-cli inspects, builds and moves interpreter memory
// snapshots, and starts single instances against a snapshot store.
//
// Usage:
//
//	memsnap-cli inspect baseline.snap
//	memsnap-cli index build --out site-packages.idx site-packages.tar
//	memsnap-cli --server https://artifacts:5180 store ls
//	memsnap-cli -c memsnap.yaml run --script main.py --upload
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yndnr/memsnap-go/internal/cli/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.App().RunContext(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
