package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/easypub/pubd/internal/domain"
)

// IssuedInvitation is one invitation this pub handed out.
type IssuedInvitation struct {
	Secret     string
	UsesLeft   int
	CreatedAt  time.Time
	RedeemedAt time.Time
}

// ─── Invitation Repository ──────────────────────────────────────────────────

// InsertInvitation records a newly issued invitation.
func (d *DB) InsertInvitation(ctx context.Context, secret string, uses int) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO invitations (secret, uses_left, created_at) VALUES (?, ?, ?)`,
		secret, uses, time.Now().Unix(),
	)
	return err
}

// GetInvitation retrieves an issued invitation by secret.
func (d *DB) GetInvitation(ctx context.Context, secret string) (*IssuedInvitation, error) {
	var inv IssuedInvitation
	var createdAt int64
	var redeemedAt sql.NullInt64
	err := d.db.QueryRowContext(ctx,
		`SELECT secret, uses_left, created_at, redeemed_at FROM invitations WHERE secret = ?`, secret,
	).Scan(&inv.Secret, &inv.UsesLeft, &createdAt, &redeemedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = time.Unix(createdAt, 0)
	inv.RedeemedAt = fromNullableUnix(redeemedAt)
	return &inv, nil
}

// ConsumeInvitation takes one use from an invitation.
func (d *DB) ConsumeInvitation(ctx context.Context, secret string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE invitations SET uses_left = uses_left - 1, redeemed_at = ?
		 WHERE secret = ? AND uses_left > 0`,
		time.Now().Unix(), secret,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := d.GetInvitation(ctx, secret); err != nil {
		return err
	}
	return domain.ErrInvitationUsed
}

// CountOpenInvitations returns how many issued invitations still have uses.
func (d *DB) CountOpenInvitations(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invitations WHERE uses_left > 0`).Scan(&n)
	return n, err
}

// PruneInvitations deletes invitations issued before cutoff, redeemed or
// not, and returns how many were removed.
func (d *DB) PruneInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM invitations WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
