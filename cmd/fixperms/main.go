// Command fixperms backfills owner and group-owner columns on directory
// rows imported without ownership. It either applies every derived
// assignment or none, then prints what is still unowned.
package main

import (
	"context"
	"fmt"
	"log"

	"stagedir/api/internal/config"
	"stagedir/api/internal/ownership"
	"stagedir/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	report, err := ownership.NewRunner(db).Run(ctx)
	if err != nil {
		log.Fatalf("ownership backfill failed, nothing applied: %v", err)
	}

	fmt.Printf("applied %d ownership assignments\n", report.Applied)
	if len(report.UnownedOrgs) > 0 {
		fmt.Printf("orgs still unowned (%d):\n", len(report.UnownedOrgs))
		for _, name := range report.UnownedOrgs {
			fmt.Printf("  %s\n", name)
		}
	}
	if len(report.UnownedTours) > 0 {
		fmt.Printf("tours still unowned (%d):\n", len(report.UnownedTours))
		for _, title := range report.UnownedTours {
			fmt.Printf("  %s\n", title)
		}
	}
	if report.UnownedPeople > 0 {
		fmt.Printf("persons still unowned: %d\n", report.UnownedPeople)
	}
	if report.UnownedEvents > 0 {
		fmt.Printf("events still unowned: %d\n", report.UnownedEvents)
	}
}
