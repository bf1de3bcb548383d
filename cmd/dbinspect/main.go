// Package main prints the media items in a ReelShelf database and the state of
// their converted outputs.
//
// Usage:
//
//	DB_PATH=~/ReelShelf/metadata/reelshelf.db go run ./cmd/dbinspect
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/reelshelf/reelshelf-server/internal/store/sqlite"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = os.ExpandEnv("$HOME/ReelShelf/metadata/reelshelf.db")
	}

	st, err := sqlite.Open(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	items, err := st.ListMediaItems(context.Background())
	if err != nil {
		log.Fatalf("Failed to list media items: %v", err)
	}

	fmt.Println("=== Database Inspection ===")
	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tVIDEO\tAUDIO\tNEEDS CONVERSION\tCONVERTED")

	var incompatible, converted, dangling int
	for _, item := range items {
		state := "-"
		if item.ConvertedPath != nil {
			if info, err := os.Stat(*item.ConvertedPath); err == nil && info.Size() > 0 {
				state = *item.ConvertedPath
				converted++
			} else {
				state = "missing: " + *item.ConvertedPath
				dangling++
			}
		}
		if item.NeedsConversion() {
			incompatible++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\n",
			item.ID, item.FileName, item.VideoCodec, item.AudioCodec, item.NeedsConversion(), state)
	}
	//nolint:errcheck // Best-effort console output
	_ = tw.Flush()

	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Media items:        %d\n", len(items))
	fmt.Printf("Need conversion:    %d\n", incompatible)
	fmt.Printf("Converted:          %d\n", converted)
	fmt.Printf("Dangling outputs:   %d\n", dangling)
}
