package database

import (
	"context"
	"fmt"
	"time"

	"asset-indexer/internal/audit"
)

// InsertAuditEvents appends events to the audit trail.
func (d *Database) InsertAuditEvents(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	return d.withBatch(ctx, "insert_audit_events", func(tx *Batch) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO audit_events (id, created_at, issuer, event, realm, object_type,
				object_reference, object_payload, scan_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.ID, toMillis(e.CreatedAt), e.Issuer, e.Event, e.Realm,
				e.ObjectType, e.ObjectReference, e.ObjectPayload, e.ScanID); err != nil {
				return fmt.Errorf("insert audit event %s: %w", e.ID, err)
			}
		}
		metricsRows("insert_audit_events", int64(len(events)))
		return nil
	})
}

// AuditEvents returns the most recent events of a realm, newest first.
func (d *Database) AuditEvents(ctx context.Context, realm string, limit int) ([]audit.Event, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("audit_events", start, err) }()

	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, created_at, issuer, event, realm, object_type, object_reference,
			COALESCE(object_payload, ''), COALESCE(scan_id, '')
		FROM audit_events WHERE realm = ? ORDER BY created_at DESC, id LIMIT ?`, realm, limit)
	if err != nil {
		return nil, fmt.Errorf("audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var created int64
		if err = rows.Scan(&e.ID, &created, &e.Issuer, &e.Event, &e.Realm, &e.ObjectType,
			&e.ObjectReference, &e.ObjectPayload, &e.ScanID); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	err = rows.Err()
	return out, err
}
