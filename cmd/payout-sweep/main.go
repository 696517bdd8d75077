// Command payout-sweep runs a single lock-guarded payout sweep and exits. It
// is meant for external schedulers such as a Kubernetes CronJob.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaultline/ledger/internal/app/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum sweep duration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	app, err := runtime.NewApplication(ctx, nil)
	if err != nil {
		log.Printf("initialise: %v", err)
		return 1
	}
	defer func() {
		if err := app.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	result, ran, err := app.App().RunPayoutSweep(ctx)
	if err != nil {
		log.Printf("payout sweep failed: %v", err)
		return 1
	}

	out := map[string]any{"ran": ran, "result": result}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		log.Printf("encode result: %v", err)
	}
	if result.Failed > 0 {
		return 2
	}
	return 0
}
