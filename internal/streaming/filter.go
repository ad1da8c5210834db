package streaming

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/text/language"

	"github.com/XueKirby/mastodon-streaming/internal/models"
)

// RowQuerier is the single-row query surface the filter needs; *pgxpool.Pool
// satisfies it.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Filter decides, per viewer and event, whether a message on a filtered
// stream may be delivered. Failures drop the message: never deliver what
// could not be verified.
type Filter struct {
	db     RowQuerier
	logger *slog.Logger
}

// NewFilter binds the filter to its query pool.
func NewFilter(db RowQuerier, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{db: db, logger: logger}
}

const blocksAndMutesQuery = `
SELECT 1
FROM blocks
WHERE (account_id = $1 AND target_account_id = ANY($2))
   OR (account_id = $3 AND target_account_id = $1)
UNION
SELECT 1
FROM mutes
WHERE account_id = $1 AND target_account_id = ANY($2)
LIMIT 1
`

const domainBlockQuery = `
SELECT 1
FROM account_domain_blocks
WHERE account_id = $1 AND domain = $2
LIMIT 1
`

// Allow applies the delivery policy for one event.
func (f *Filter) Allow(ctx context.Context, viewer *models.Account, dest Destination, event Event) bool {
	if dest.NotificationOnly && event.Event != EventNotification {
		return false
	}
	if event.Event == EventNotification && !viewer.AllowsNotifications() {
		return false
	}
	if !dest.NeedsFiltering || event.Event != EventUpdate {
		return true
	}

	status, err := ParseStatus(event.Payload)
	if err != nil {
		f.logger.Error("unparseable status on filtered stream", "error", err)
		return false
	}

	if viewer != nil && status.Language != nil && len(viewer.ChosenLanguages) > 0 {
		if !languageChosen(viewer.ChosenLanguages, *status.Language) {
			return false
		}
	}
	if viewer == nil {
		return true
	}

	targets := accountIDList(status.TargetAccountIDs())
	author, err := strconv.ParseInt(status.Account.ID, 10, 64)
	if err != nil {
		f.logger.Error("status author id is not numeric", "id", status.Account.ID)
		return false
	}

	var one int
	err = f.db.QueryRow(ctx, blocksAndMutesQuery, viewer.ID, targets, author).Scan(&one)
	switch {
	case err == nil:
		return false
	case !errors.Is(err, pgx.ErrNoRows):
		f.logger.Error("block/mute lookup failed", "error", err)
		return false
	}

	if domain := status.AuthorDomain(); domain != "" {
		err = f.db.QueryRow(ctx, domainBlockQuery, viewer.ID, domain).Scan(&one)
		switch {
		case err == nil:
			return false
		case !errors.Is(err, pgx.ErrNoRows):
			f.logger.Error("domain block lookup failed", "error", err)
			return false
		}
	}
	return true
}

func accountIDList(ids []string) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

// languageChosen reports whether the status language is among the viewer's
// chosen languages, comparing canonical base tags so "en-US" matches "en".
func languageChosen(chosen []string, lang string) bool {
	want := baseLanguage(lang)
	for _, candidate := range chosen {
		if baseLanguage(candidate) == want {
			return true
		}
	}
	return false
}

func baseLanguage(tag string) string {
	parsed, err := language.Parse(strings.TrimSpace(tag))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(tag))
	}
	base, _ := parsed.Base()
	return base.String()
}
