/*
	Photomigrate
	Copyright (c) 2025 The Photomigrate Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/photomigrate/photomigrate/immich"
	"github.com/photomigrate/photomigrate/migrate"
)

func main() {
	takeoutPath := flag.String("takeout", "", "Path to the extracted Google Photos Takeout directory")
	serverURL := flag.String("server", "", "Immich server URL, e.g. http://localhost:2283")
	apiKey := flag.String("api-key", "", "Immich API key (or set IMMICH_API_KEY)")
	workers := flag.Int("workers", 0, "Number of concurrent upload workers (default 10)")
	dryRun := flag.Bool("dry-run", false, "Report what would happen without changing the server")
	journalPath := flag.String("journal", "", "Path to a SQLite journal for resumable runs (optional)")
	rpm := flag.Int("rpm", 0, "Max requests per minute to the server (0 = unlimited)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	logConfig := zap.NewDevelopmentConfig()
	if *verbose {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *takeoutPath == "" {
		logger.Fatal("Takeout path is required. Specify it with -takeout")
	}
	if *serverURL == "" {
		logger.Fatal("Server URL is required. Specify it with -server")
	}
	key := *apiKey
	if key == "" {
		key = os.Getenv("IMMICH_API_KEY")
	}
	if key == "" {
		logger.Fatal("API key is required. Specify it with -api-key or IMMICH_API_KEY")
	}

	client, err := immich.NewClient(*serverURL, key, immich.Options{
		RequestsPerMinute: *rpm,
		Logger:            logger.Named("immich"),
	})
	if err != nil {
		logger.Fatal("Error creating client", zap.Error(err))
	}

	engine, err := migrate.New(migrate.Config{
		Root:        *takeoutPath,
		Service:     client,
		Workers:     *workers,
		DryRun:      *dryRun,
		JournalPath: *journalPath,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Error configuring migration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting migration",
		zap.String("takeout", *takeoutPath),
		zap.String("server", *serverURL),
		zap.Bool("dry_run", *dryRun))
	startTime := time.Now()

	summary, err := engine.Run(ctx)
	if err != nil {
		logger.Error("Migration did not complete", zap.Error(err))
	}

	for _, f := range summary.Failures {
		logger.Warn("Item failed",
			zap.String("path", f.Path),
			zap.String("kind", f.Kind.String()),
			zap.Error(f.Err))
	}
	for _, a := range summary.AlbumFailures {
		logger.Warn("Album failed", zap.String("album", a.Name), zap.Error(a.Err))
	}

	elapsed := time.Since(startTime)
	logger.Info("Migration finished",
		zap.Duration("time", elapsed),
		zap.Int("found", summary.TotalFound),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("metadata_updated", summary.MetadataUpdated),
		zap.Int("metadata_correct", summary.MetadataAlreadyCorrect),
		zap.Int("failed", summary.Failed),
		zap.Int64("skipped_unsupported", summary.SkippedUnsupported),
		zap.Int64("skipped_trashed", summary.SkippedTrashed),
		zap.Int("albums_created", len(summary.AlbumsCreated)),
		zap.Int("albums_existing", len(summary.AlbumsExisting)))

	fmt.Printf("\nMigration summary:\n")
	fmt.Printf("  Found:             %d\n", summary.TotalFound)
	fmt.Printf("  Uploaded new:      %d\n", summary.Uploaded)
	fmt.Printf("  Duplicates:        %d\n", summary.Duplicates)
	fmt.Printf("  Metadata updated:  %d\n", summary.MetadataUpdated)
	fmt.Printf("  Already correct:   %d\n", summary.MetadataAlreadyCorrect)
	fmt.Printf("  Failed:            %d\n", summary.Failed)
	fmt.Printf("  Albums created:    %d\n", len(summary.AlbumsCreated))
	fmt.Printf("  Success rate:      %.1f%%\n", summary.SuccessRate())
	fmt.Printf("  Time:              %v\n", elapsed.Round(time.Second))

	if err != nil || summary.Failed > 0 || len(summary.AlbumFailures) > 0 {
		os.Exit(1)
	}
}
