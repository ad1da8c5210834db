package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/XueKirby/mastodon-streaming/internal/models"
)

// RowQuerier is the single-row query surface the resolver needs;
// *pgxpool.Pool satisfies it.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Resolver maps bearer tokens to account identities against the OAuth token
// tables.
type Resolver struct {
	db     RowQuerier
	logger *slog.Logger
}

// NewResolver binds the resolver to its query pool.
func NewResolver(db RowQuerier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, logger: logger}
}

const tokenQuery = `
SELECT users.account_id, users.chosen_languages, oauth_access_tokens.scopes, devices.device_id
FROM oauth_access_tokens
INNER JOIN users ON oauth_access_tokens.resource_owner_id = users.id
LEFT OUTER JOIN devices ON oauth_access_tokens.id = devices.access_token_id
WHERE oauth_access_tokens.token = $1
  AND oauth_access_tokens.revoked_at IS NULL
LIMIT 1
`

// Resolve authenticates a bearer token and checks it against the required
// scopes. An empty token fails with ErrMissingToken; an empty requiredScopes
// set skips the scope check.
func (r *Resolver) Resolve(ctx context.Context, token string, requiredScopes []string) (*models.Account, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var (
		accountID       int64
		chosenLanguages []string
		rawScopes       *string
		deviceID        *int64
	)
	err := r.db.QueryRow(ctx, tokenQuery, token).Scan(&accountID, &chosenLanguages, &rawScopes, &deviceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		r.logger.Error("token lookup failed", "error", err)
		return nil, err
	}

	account := &models.Account{
		ID:              accountID,
		ChosenLanguages: chosenLanguages,
	}
	if rawScopes != nil {
		account.Scopes = models.ParseScopes(*rawScopes)
	}
	if deviceID != nil {
		account.DeviceID = *deviceID
	}

	if len(requiredScopes) > 0 && !account.HasAnyScope(requiredScopes...) {
		return nil, ErrInsufficientScope
	}
	return account, nil
}
