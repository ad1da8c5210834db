package auth

import (
	"context"
	"strconv"

	"github.com/XueKirby/mastodon-streaming/internal/models"
)

const listOwnerQuery = `
SELECT account_id
FROM lists
WHERE id = $1
LIMIT 1
`

// AuthorizeList reports whether the account owns the given list. Unknown
// lists, malformed ids, and query failures all read as not authorized so the
// transports can answer with the same 404 either way.
func (r *Resolver) AuthorizeList(ctx context.Context, listID string, account *models.Account) bool {
	if account == nil {
		return false
	}
	id, err := strconv.ParseInt(listID, 10, 64)
	if err != nil {
		return false
	}

	var ownerID int64
	if err := r.db.QueryRow(ctx, listOwnerQuery, id).Scan(&ownerID); err != nil {
		return false
	}
	return ownerID == account.ID
}
