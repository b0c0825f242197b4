package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/easypub/pubd/internal/domain"
)

// ─── Federated Peer Repository ──────────────────────────────────────────────

// UpsertFederatedPeer inserts a peer or refreshes its address. A peer that
// is already connected stays connected; any other state is replaced. An
// empty announced host keeps the stored one.
func (d *DB) UpsertFederatedPeer(ctx context.Context, p domain.FederatedPeer, invitation string) error {
	if p.AddedAt.IsZero() {
		p.AddedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO federated_peers (key, host, port, state, source, invitation, announced, added_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			host=excluded.host,
			port=excluded.port,
			invitation=excluded.invitation,
			announced=CASE WHEN excluded.announced = '' THEN federated_peers.announced ELSE excluded.announced END,
			state=CASE WHEN federated_peers.state = 'connected' THEN federated_peers.state ELSE excluded.state END`,
		p.Key, p.Host, p.Port, string(p.State), string(p.Source), invitation, p.Announced,
		p.AddedAt.Unix(), nullableUnix(p.LastSeen),
	)
	return err
}

// GetFederatedPeer retrieves one peer by key.
func (d *DB) GetFederatedPeer(ctx context.Context, key string) (*domain.FederatedPeer, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT key, host, port, state, source, announced, added_at, last_seen
		 FROM federated_peers WHERE key = ?`, key,
	)
	p, err := scanPeer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPeerNotFound
	}
	return p, err
}

// ListFederatedPeers returns every peer, oldest first.
func (d *DB) ListFederatedPeers(ctx context.Context) ([]domain.FederatedPeer, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT key, host, port, state, source, announced, added_at, last_seen
		 FROM federated_peers ORDER BY added_at, key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []domain.FederatedPeer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, *p)
	}
	return peers, rows.Err()
}

// UpdatePeerState sets a peer's connection state. Moving to connected also
// stamps last_seen.
func (d *DB) UpdatePeerState(ctx context.Context, key string, state domain.ConnectionState) error {
	var (
		res sql.Result
		err error
	)
	if state == domain.StateConnected {
		res, err = d.db.ExecContext(ctx,
			`UPDATE federated_peers SET state = ?, last_seen = ? WHERE key = ?`,
			string(state), time.Now().Unix(), key)
	} else {
		res, err = d.db.ExecContext(ctx,
			`UPDATE federated_peers SET state = ? WHERE key = ?`,
			string(state), key)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPeerNotFound
	}
	return nil
}

// DeleteFederatedPeer removes a peer record.
func (d *DB) DeleteFederatedPeer(ctx context.Context, key string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM federated_peers WHERE key = ?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPeerNotFound
	}
	return nil
}

// CountPeersByState returns the number of peers in each state.
func (d *DB) CountPeersByState(ctx context.Context) (map[domain.ConnectionState]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM federated_peers GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.ConnectionState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.ParseConnectionState(state)] += n
	}
	return counts, rows.Err()
}

func scanPeer(s scanner) (*domain.FederatedPeer, error) {
	var p domain.FederatedPeer
	var state, source string
	var addedAt int64
	var lastSeen sql.NullInt64

	if err := s.Scan(&p.Key, &p.Host, &p.Port, &state, &source, &p.Announced, &addedAt, &lastSeen); err != nil {
		return nil, err
	}
	p.State = domain.ParseConnectionState(state)
	p.Source = domain.PeerSource(source)
	p.AddedAt = time.Unix(addedAt, 0)
	p.LastSeen = fromNullableUnix(lastSeen)
	return &p, nil
}
