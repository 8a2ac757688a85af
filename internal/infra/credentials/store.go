package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"canvaspreview/internal/infra"
	"canvaspreview/internal/sqlinline"
)

const (
	ProviderPrediction = "prediction"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// PredictionToken returns the stored API token of the generation provider,
// or "" when none has been stored.
func (s *Store) PredictionToken(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderPrediction)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetPredictionToken stores the provider token together with the model it
// was issued for.
func (s *Store) SetPredictionToken(ctx context.Context, token, model string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("prediction api token is required")
	}
	var props map[string]any
	if model = strings.TrimSpace(model); model != "" {
		props = map[string]any{"model": model}
	}
	return s.upsert(ctx, ProviderPrediction, token, props)
}

// Resolve prefers the configured token and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	token, err := s.PredictionToken(ctx)
	if err != nil {
		return "", fmt.Errorf("credentials: load prediction token: %w", err)
	}
	return token, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
