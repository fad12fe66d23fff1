package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/odyssey-erp/romaneios/internal/app"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
)

// Seeds demo romaneios through the service so the remote registration and
// creation log run exactly as they do for real requests.
func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	container, err := app.Build(ctx, cfg, app.NewLoggerTo(cfg, io.Discard))
	if err != nil {
		log.Fatalf("build application: %v", err)
	}
	defer container.Close()

	if cfg.DBDriver != app.DriverMemory {
		fmt.Println("→ Applying schema...")
		if err := container.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	fmt.Println("→ Seeding romaneios...")
	created := 0
	for i, po := range []string{"000285847", "000285848", "000285849", "000285850", "000285851"} {
		r, items, err := container.Service.Create(ctx, romaneio.CreateInput{
			PurchaseOrder: po,
			InvoiceNumber: fmt.Sprintf("%06d", 1200+i),
			AccessKey:     fmt.Sprintf("352401123456780001995500100000%04d1%09d", 1234+i, 12345+i),
			Notes:         "seeded demo record",
			CreatedBy:     1,
		})
		switch {
		case errors.Is(err, romaneio.ErrDuplicatePurchaseOrder), errors.Is(err, romaneio.ErrRemoteDuplicate):
			fmt.Printf("  = %s already present\n", po)
			continue
		case err != nil:
			log.Fatalf("seed romaneio %s: %v", po, err)
		}
		created++
		fmt.Printf("  + %s (id %d, %d items)\n", po, r.ID, len(items))
	}

	fmt.Printf("✓ Seed complete at %s (%d created)\n", time.Now().Format(time.RFC3339), created)
}
