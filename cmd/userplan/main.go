package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"canvaspreview/internal/domain"
	"canvaspreview/internal/infra"
	"canvaspreview/internal/sqlinline"
)

func main() {
	_ = godotenv.Load()

	var (
		idFlag    string
		emailFlag string
		planFlag  string
	)

	flag.StringVar(&idFlag, "id", "", "user ID to update (UUID)")
	flag.StringVar(&emailFlag, "email", "", "user email to update")
	flag.StringVar(&planFlag, "plan", string(domain.TierPro), "plan to assign (free, plus, pro)")
	flag.Parse()

	userID := strings.TrimSpace(idFlag)
	email := strings.TrimSpace(emailFlag)
	plan := domain.EntitlementTier(strings.TrimSpace(strings.ToLower(planFlag)))

	if userID == "" && email == "" {
		exitWithError(errors.New("either -id or -email must be provided"))
	}
	switch plan {
	case domain.TierFree, domain.TierPlus, domain.TierPro:
	default:
		exitWithError(fmt.Errorf("unsupported plan %q", plan))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "userplan").Logger()
	runner := infra.NewSQLRunner(pool, logger)

	var current struct {
		ID    string
		Email string
		Plan  string
	}
	var scanErr error
	if userID != "" {
		scanErr = runner.QueryRow(ctx, sqlinline.QSelectUserPlanByID, userID).Scan(&current.ID, &current.Email, &current.Plan)
	} else {
		scanErr = runner.QueryRow(ctx, sqlinline.QSelectUserPlanByEmail, email).Scan(&current.ID, &current.Email, &current.Plan)
	}
	if scanErr != nil {
		exitWithError(fmt.Errorf("failed to load user: %w", scanErr))
	}

	var updatedID, updatedEmail, updatedPlan string
	if err := runner.QueryRow(ctx, sqlinline.QUpdateUserPlan, current.ID, string(plan)).
		Scan(&updatedID, &updatedEmail, &updatedPlan); err != nil {
		exitWithError(fmt.Errorf("failed to update user plan: %w", err))
	}

	tier := domain.ParseEntitlementTier(updatedPlan)
	fmt.Printf("User %s (%s) moved from %s to %s\n", updatedID, updatedEmail, current.Plan, updatedPlan)
	fmt.Printf("watermark-free previews: %v\n", tier.Unwatermarked())
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
