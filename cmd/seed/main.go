// Package main seeds the database with media items from a JSON manifest, for
// exercising conversion without a library scanner.
//
// Usage:
//
//	DB_PATH=~/ReelShelf/metadata/reelshelf.db go run ./cmd/seed items.json
//
// The manifest is an array of objects:
//
//	[{"id": 1, "file_path": "/media/a.mkv", "duration_seconds": 5400, "video_codec": "hevc", "audio_codec": "eac3"}]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/reelshelf/reelshelf-server/internal/domain"
	"github.com/reelshelf/reelshelf-server/internal/store/sqlite"
)

var skipMissing = flag.Bool("skip-missing", false, "Skip entries whose source file does not exist")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: seed [-skip-missing] items.json")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/ReelShelf/metadata/reelshelf.db")
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read manifest: %v", err)
	}

	var items []*domain.MediaItem
	if err := json.Unmarshal(data, &items); err != nil {
		log.Fatalf("Failed to parse manifest: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	fmt.Printf("Opening database at: %s\n", dbPath)
	st, err := sqlite.Open(dbPath, nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	var seeded, skipped int
	for _, item := range items {
		if item.ID <= 0 || item.FilePath == "" {
			log.Printf("Skipping entry without id or file_path: %+v", item)
			skipped++
			continue
		}
		if _, err := os.Stat(item.FilePath); err != nil && *skipMissing {
			skipped++
			continue
		}
		if item.FileName == "" {
			item.FileName = filepath.Base(item.FilePath)
		}
		// Converted outputs are owned by the server.
		item.ConvertedPath = nil

		if err := st.UpsertMediaItem(ctx, item); err != nil {
			log.Fatalf("Failed to upsert item %d: %v", item.ID, err)
		}
		seeded++
	}

	fmt.Printf("Seeded %d media items (%d skipped)\n", seeded, skipped)
}
