package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"asset-indexer/internal/catalogue"
	"asset-indexer/internal/logging"
)

// errUnreadableClaim marks a claim row whose stored values no longer parse.
var errUnreadableClaim = errors.New("unreadable claim")

const claimColumns = `p.id, p.handler_name, p.event_type, p.previous_handlers, p.created_at, p.updated_at,
	p.worker_host, p.worker_pid`

func scanClaim(s rowScanner) (catalogue.PendingActivity, error) {
	var a catalogue.PendingActivity
	var event string
	var created, updated int64
	var modified, firstSeen, lastSeen int64

	dest := []interface{}{
		&a.ID, &a.HandlerName, &event, &a.PreviousHandlers, &created, &updated, &a.WorkerHost, &a.WorkerPID,
	}
	dest = append(dest, fileDest(&a.File, &modified, &firstSeen, &lastSeen)...)
	if err := s.Scan(dest...); err != nil {
		return catalogue.PendingActivity{}, err
	}

	et, err := catalogue.ParseEventType(event)
	if err != nil {
		return catalogue.PendingActivity{}, fmt.Errorf("%w %d: %v", errUnreadableClaim, a.ID, err)
	}
	a.EventType = et
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	a.File.ModifiedAt = fromMillis(modified)
	a.File.FirstSeenAt = fromMillis(firstSeen)
	a.File.LastSeenAt = fromMillis(lastSeen)
	return a, nil
}

// DeclareClaim persists a claim for (claim.File.HashPath, claim.HandlerName).
// It returns false without touching the row when the pair is already
// claimed, and ErrNotFound when the file is not catalogued.
func (d *Database) DeclareClaim(ctx context.Context, claim catalogue.PendingActivity) (bool, error) {
	created := false
	err := d.withBatch(ctx, "declare_claim", func(tx *Batch) error {
		now := toMillis(claim.CreatedAt)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pending_activity (file_id, handler_name, event_type, previous_handlers,
				created_at, updated_at, worker_host, worker_pid)
			SELECT id, ?, ?, ?, ?, ?, ?, ? FROM files WHERE hash_path = ?
			ON CONFLICT(file_id, handler_name) DO NOTHING`,
			claim.HandlerName, string(claim.EventType), claim.PreviousHandlers,
			now, now, claim.WorkerHost, claim.WorkerPID, claim.File.HashPath)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			created = true
			return nil
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE hash_path = ?`, claim.File.HashPath).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return nil
	})
	return created, err
}

// EndClaim deletes the claim of one (file, handler) pair. A missing claim is
// not an error.
func (d *Database) EndClaim(ctx context.Context, hashPath, handler string) error {
	return d.withBatch(ctx, "end_claim", func(tx *Batch) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM pending_activity
			WHERE handler_name = ? AND file_id = (SELECT id FROM files WHERE hash_path = ?)`,
			handler, hashPath)
		if err != nil {
			return err
		}
		observeRows("end_claim", res)
		return nil
	})
}

// DeleteClaimsForFile drops every claim of one file.
func (d *Database) DeleteClaimsForFile(ctx context.Context, hashPath string) error {
	return d.withBatch(ctx, "delete_claims_for_file", func(tx *Batch) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM pending_activity WHERE file_id = (SELECT id FROM files WHERE hash_path = ?)`, hashPath)
		if err != nil {
			return err
		}
		observeRows("delete_claims_for_file", res)
		return nil
	})
}

// LoadRecoverable returns the claims of the given realms that are either
// owned by host or were last stamped before staleBefore. Claims are ordered
// by file then id so callers can group them.
func (d *Database) LoadRecoverable(ctx context.Context, realms []string, host string, staleBefore time.Time) ([]catalogue.PendingActivity, error) {
	if len(realms) == 0 {
		return nil, nil
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("load_recoverable", start, err) }()

	args := append(toArgs(realms), host, toMillis(staleBefore))
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+claimColumns+`, `+prefixed("f")+`
		FROM pending_activity p JOIN files f ON f.id = p.file_id
		WHERE f.realm IN (`+placeholders(len(realms))+`)
		AND (p.worker_host = ? OR p.updated_at < ?)
		ORDER BY f.id, p.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load recoverable claims: %w", err)
	}
	defer rows.Close()

	var out []catalogue.PendingActivity
	for rows.Next() {
		a, scanErr := scanClaim(rows)
		if errors.Is(scanErr, errUnreadableClaim) {
			logging.Warn("Skipping pending activity: %v", scanErr)
			continue
		}
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, a)
	}
	err = rows.Err()
	return out, err
}

// ListClaims returns every claim of a realm, or of all realms when realm is
// empty.
func (d *Database) ListClaims(ctx context.Context, realm string) ([]catalogue.PendingActivity, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_claims", start, err) }()

	query := `SELECT ` + claimColumns + `, ` + prefixed("f") + `
		FROM pending_activity p JOIN files f ON f.id = p.file_id`
	var args []interface{}
	if realm != "" {
		query += ` WHERE f.realm = ?`
		args = append(args, realm)
	}
	query += ` ORDER BY f.id, p.id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []catalogue.PendingActivity
	for rows.Next() {
		a, scanErr := scanClaim(rows)
		if errors.Is(scanErr, errUnreadableClaim) {
			logging.Warn("Skipping pending activity: %v", scanErr)
			continue
		}
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, a)
	}
	err = rows.Err()
	return out, err
}

// RestampClaim hands a claim over to host/pid.
func (d *Database) RestampClaim(ctx context.Context, id int64, host string, pid int, now time.Time) error {
	return d.withBatch(ctx, "restamp_claim", func(tx *Batch) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE pending_activity SET worker_host = ?, worker_pid = ?, updated_at = ? WHERE id = ?`,
			host, pid, toMillis(now), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
