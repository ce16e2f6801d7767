package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"accounts/internal/config"
	"accounts/internal/storage/mongodb"
	"accounts/internal/storage/sqlite"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		log.Fatal("config path is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrate(ctx, cfg.Storage); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	fmt.Println("Database initialization completed successfully")
}

func migrate(ctx context.Context, cfg config.StorageConfig) error {
	switch cfg.Type {
	case config.StorageMongo:
		log.Println("Connecting to MongoDB...")

		// mongodb.New creates the unique indexes on connect.
		storage, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		defer storage.Close(ctx)

		log.Println("MongoDB connected, indexes created successfully")

	case config.StorageSQLite:
		log.Printf("Applying migrations to %s...", cfg.Path)

		if err := sqlite.Migrate(cfg.Path); err != nil {
			return err
		}

		log.Println("SQLite migrations applied")

	case config.StorageMemory:
		return errors.New("memory storage has nothing to migrate")

	default:
		return fmt.Errorf("unknown storage type %q", cfg.Type)
	}

	return nil
}
