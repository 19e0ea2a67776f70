// cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/db"
	"github.com/unclebandit/wa-dispatch/internal/logger"
)

// Applies migrations/*.sql, then seed/*.sql, each set in file name order.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("wa-dispatch-seeder", "local", "info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New("wa-dispatch-seeder", cfg.App.Env, cfg.App.LogLevel)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	for _, pattern := range []string{"migrations/*.sql", "seed/*.sql"} {
		files, err := filepath.Glob(pattern)
		if err != nil {
			log.Fatal().Err(err).Str("pattern", pattern).Msg("bad pattern")
		}
		sort.Strings(files)

		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				log.Fatal().Err(err).Str("file", file).Msg("failed to read")
			}
			if _, err := conn.ExecContext(ctx, string(content)); err != nil {
				log.Fatal().Err(err).Str("file", file).Msg("failed to execute")
			}
			log.Info().Str("file", file).Msg("applied")
		}
	}

	fmt.Println("Database seeding completed successfully!")
}
