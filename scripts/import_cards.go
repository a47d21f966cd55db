package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cosmicduel/duel-server/internal/card"
	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/cosmicduel/duel-server/internal/repository"
	"go.uber.org/zap"
)

func main() {
	defaults := flag.Bool("defaults", false, "import the built-in card set instead of a CSV file")
	batchSize := flag.Int("batch", 500, "cards per transaction")
	flag.Parse()
	if *batchSize <= 0 {
		log.Fatal("-batch must be positive")
	}

	ctx := context.Background()

	var records []card.Record
	if *defaults {
		for _, def := range card.DefaultCards() {
			records = append(records, def.ToRecord())
		}
		fmt.Println("=== Duel Card Import (built-in set) ===")
	} else {
		csvPath := "data/cards.csv"
		if flag.NArg() > 0 {
			csvPath = flag.Arg(0)
		}
		absPath, err := filepath.Abs(csvPath)
		if err != nil {
			log.Fatalf("Failed to get absolute path: %v", err)
		}

		fmt.Println("=== Duel Card Import ===")
		fmt.Printf("CSV file: %s\n", absPath)

		file, err := os.Open(absPath)
		if err != nil {
			log.Fatalf("Failed to open CSV file: %v", err)
		}
		defer file.Close()

		var skipped []error
		records, skipped, err = card.ReadCSV(file)
		if err != nil {
			log.Fatalf("Failed to read CSV: %v", err)
		}
		for _, e := range skipped {
			log.Printf("Warning: skipping %v", e)
		}
		fmt.Printf("Parsed %d valid cards (%d skipped)\n", len(records), len(skipped))
	}
	if len(records) == 0 {
		log.Fatal("No cards to import")
	}

	cfg, err := config.Load(os.Getenv("DUEL_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DUEL_DATABASE_URL is not set")
	}

	fmt.Println("Connecting to database...")
	db, err := repository.NewDB(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	fmt.Println("✓ Database connection established")

	store := repository.NewPostgresStore(db)
	startTime := time.Now()
	imported := 0
	for i := 0; i < len(records); i += *batchSize {
		end := min(i+*batchSize, len(records))
		if err := store.UpsertCards(ctx, records[i:end]); err != nil {
			log.Fatalf("Failed to import cards %d-%d: %v", i+1, end, err)
		}
		imported = end
		fmt.Printf("Progress: %d/%d cards imported\n", imported, len(records))
	}

	fmt.Println("\n=== Import Complete ===")
	fmt.Printf("✓ Successfully imported: %d cards\n", imported)
	fmt.Printf("Time taken: %s\n", time.Since(startTime))

	stored, err := store.ListCards(ctx)
	if err == nil {
		fmt.Printf("\nTotal cards in database: %d\n", len(stored))
	}
}
