package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"canvaspreview/internal/infra"
	"canvaspreview/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()

	var (
		tokenFlag string
		modelFlag string
	)
	flag.StringVar(&tokenFlag, "token", "", "API token of the generation provider (fallbacks to PROVIDER_API_TOKEN)")
	flag.StringVar(&modelFlag, "model", os.Getenv("PROVIDER_MODEL"), "Model the token is used with")
	flag.Parse()

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("PROVIDER_API_TOKEN"))
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "provider API token is required via -token or PROVIDER_API_TOKEN")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	if err := store.SetPredictionToken(ctxExec, token, modelFlag); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist provider token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("provider API token stored successfully")
}
