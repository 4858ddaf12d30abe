package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateShareLink persists a share link.
func (t *Tx) CreateShareLink(ctx context.Context, link *models.ShareLink) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO share_links (token_hash, group_id, created_by, created_at, expires_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		link.TokenHash, link.GroupID, link.CreatedBy, toMillis(link.CreatedAt), toMillis(link.ExpiresAt),
		nullMillis(link.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert share link: %w", err)
	}
	return nil
}

// GetShareLink retrieves a share link by the hash of its token.
func (t *Tx) GetShareLink(ctx context.Context, tokenHash string) (*models.ShareLink, error) {
	link := &models.ShareLink{}
	var (
		createdAt, expiresAt int64
		revokedAt            sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT token_hash, group_id, created_by, created_at, expires_at, revoked_at
		 FROM share_links WHERE token_hash = ?`,
		tokenHash,
	).Scan(&link.TokenHash, &link.GroupID, &link.CreatedBy, &createdAt, &expiresAt, &revokedAt)
	if err != nil {
		return nil, notFound(err, "share link", "")
	}
	link.CreatedAt = fromMillis(createdAt)
	link.ExpiresAt = fromMillis(expiresAt)
	link.RevokedAt = fromNullMillis(revokedAt)
	return link, nil
}

// RevokeShareLink stamps a link as revoked. Revoking twice reports ErrNotFound.
func (t *Tx) RevokeShareLink(ctx context.Context, tokenHash string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE share_links SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		toMillis(at), tokenHash,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke share link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for share link: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("share link not found: %w", storage.ErrNotFound)
	}
	return nil
}

// PurgeShareLinks deletes links that expired or were revoked before cutoff.
func (s *SQLiteStore) PurgeShareLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM share_links WHERE expires_at < ? OR revoked_at < ?`,
		toMillis(cutoff), toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge share links: %w", err)
	}
	return res.RowsAffected()
}
