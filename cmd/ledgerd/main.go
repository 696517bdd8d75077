// Command ledgerd serves the ledger HTTP API and runs scheduled payout sweeps.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaultline/ledger/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := runtime.NewApplication(ctx, nil)
	if err != nil {
		log.Fatalf("initialise: %v", err)
	}

	runErr := app.Run(ctx)
	if err := app.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("run: %v", runErr)
	}
}
