package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/migrations"
)

func main() {
	_ = godotenv.Load()

	var down bool
	flag.BoolVar(&down, "down", false, "roll back the latest migration instead of applying pending ones")
	flag.Parse()

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}
	logger := infra.NewLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("cmd", "migrate").Logger()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	if down {
		err = migrations.Down(ctx, db)
	} else {
		err = migrations.Up(ctx, db)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Bool("down", down).Msg("migrations applied")
}
