package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateShareLinkInput asks for a new invitation token.
type CreateShareLinkInput struct {
	ActorID string
	GroupID string
	// TTL defaults to the configured lifetime when zero.
	TTL time.Duration
}

// RevokeShareLinkInput invalidates a token before it expires.
type RevokeShareLinkInput struct {
	ActorID string
	GroupID string
	Token   string
}

// ShareLinkResult carries the plaintext token, which is never stored.
type ShareLinkResult struct {
	Token string
	Link  *models.ShareLink
}

// newShareToken returns a random token and the hash stored for it.
func newShareToken() (token, hash string) {
	token = strings.ReplaceAll(uuid.NewString(), "-", "")
	return token, hashShareToken(token)
}

func hashShareToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CreateShareLink issues a share link. Requires the invite_members permission.
func (m *Manager) CreateShareLink(ctx context.Context, in CreateShareLinkInput) (*ShareLinkResult, error) {
	ttl := in.TTL
	if ttl == 0 {
		ttl = m.cfg.ShareLinkTTL
	}
	if ttl < 0 || ttl > m.cfg.MaxShareLinkTTL {
		return nil, apperr.New(apperr.CodeInvalidArgument, "link lifetime must be between 0 and %s", m.cfg.MaxShareLinkTTL).
			WithField("ttl")
	}

	var result *ShareLinkResult
	err := m.mutate(ctx, "CreateShareLink", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionInviteMembers, ""); err != nil {
			return err
		}

		now := m.now()
		token, hash := newShareToken()
		link := &models.ShareLink{
			TokenHash: hash,
			GroupID:   group.ID,
			CreatedBy: in.ActorID,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := tx.CreateShareLink(ctx, link); err != nil {
			return err
		}
		result = &ShareLinkResult{Token: token, Link: link}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Share link created", "group_id", in.GroupID, "expires_at", result.Link.ExpiresAt)
	return result, nil
}

// RevokeShareLink invalidates a share link of the group. Requires the
// invite_members permission.
func (m *Manager) RevokeShareLink(ctx context.Context, in RevokeShareLinkInput) error {
	return m.mutate(ctx, "RevokeShareLink", func(ctx context.Context, tx storage.Tx) error {
		group, err := loadGroup(ctx, tx, in.GroupID)
		if err != nil {
			return err
		}
		actor, err := actorMembership(ctx, tx, in.GroupID, in.ActorID)
		if err != nil {
			return err
		}
		if err := authorize(group, actor, models.ActionInviteMembers, ""); err != nil {
			return err
		}

		hash := hashShareToken(in.Token)
		link, err := tx.GetShareLink(ctx, hash)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && link.GroupID != group.ID) {
			return apperr.New(apperr.CodeShareLinkInvalid, "share link not found").WithField("token")
		}
		if err != nil {
			return err
		}
		err = tx.RevokeShareLink(ctx, hash, m.now())
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.CodeShareLinkInvalid, "share link already revoked").WithField("token")
		}
		return err
	})
}

// redeemShareLink resolves a token to its usable link.
func redeemShareLink(ctx context.Context, tx storage.Tx, token string, now time.Time) (*models.ShareLink, error) {
	if token == "" {
		return nil, apperr.New(apperr.CodeShareLinkInvalid, "share link token is required").WithField("token")
	}
	link, err := tx.GetShareLink(ctx, hashShareToken(token))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.New(apperr.CodeShareLinkInvalid, "share link is not valid").WithField("token")
	}
	if err != nil {
		return nil, err
	}
	if !link.Usable(now) {
		return nil, apperr.New(apperr.CodeShareLinkInvalid, "share link expired or was revoked").WithField("token")
	}
	return link, nil
}
