// Command fundus-cam explains glaucoma predictions on eye fundus images with
// Grad-CAM heatmaps and triages them by urgency.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Interrupt stops a batch between images.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
