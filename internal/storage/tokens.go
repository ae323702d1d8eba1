package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/BragerSync/internal/bragerone"
	"github.com/jackc/pgx/v5"
)

const tokenSchema = `
CREATE TABLE IF NOT EXISTS bragerone_tokens (
	account       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT 'Bearer',
	expires_at    TIMESTAMPTZ,
	objects       BIGINT[] NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the token table if it does not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, tokenSchema); err != nil {
		return fmt.Errorf("failed to create token table: %w", err)
	}
	return nil
}

// LoadToken implements bragerone.TokenStore.
func (p *PostgresClient) LoadToken(ctx context.Context, account string) (*bragerone.Token, error) {
	var (
		token     bragerone.Token
		expiresAt *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expires_at, objects
		FROM bragerone_tokens
		WHERE account = $1
	`, account).Scan(
		&token.AccessToken, &token.RefreshToken, &token.TokenType, &expiresAt, &token.ObjectIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bragerone.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if expiresAt != nil {
		token.ExpiresAt = *expiresAt
	}
	return &token, nil
}

func (p *PostgresClient) SaveToken(ctx context.Context, account string, token *bragerone.Token) error {
	var expiresAt *time.Time
	if !token.ExpiresAt.IsZero() {
		expiresAt = &token.ExpiresAt
	}
	objects := token.ObjectIDs
	if objects == nil {
		objects = []int64{}
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO bragerone_tokens (account, access_token, refresh_token, token_type, expires_at, objects, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (account) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			objects = EXCLUDED.objects,
			updated_at = NOW()
	`, account, token.AccessToken, token.RefreshToken, token.TokenType, expiresAt, objects)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (p *PostgresClient) DeleteToken(ctx context.Context, account string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM bragerone_tokens WHERE account = $1`, account); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

var _ bragerone.TokenStore = (*PostgresClient)(nil)
