package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"asset-indexer/internal/catalogue"
)

const fileColumns = `id, hash_path, parent_hash_path, realm, storage, path, directory, hidden, link, special,
	length, modified_at, first_seen_at, last_seen_at, marked_stable, last_scan_unchanged, stable_but_changed`

// prefixed returns fileColumns qualified with a table alias.
func prefixed(alias string) string {
	return alias + `.id, ` + alias + `.hash_path, ` + alias + `.parent_hash_path, ` + alias + `.realm, ` +
		alias + `.storage, ` + alias + `.path, ` + alias + `.directory, ` + alias + `.hidden, ` +
		alias + `.link, ` + alias + `.special, ` + alias + `.length, ` + alias + `.modified_at, ` +
		alias + `.first_seen_at, ` + alias + `.last_seen_at, ` + alias + `.marked_stable, ` +
		alias + `.last_scan_unchanged, ` + alias + `.stable_but_changed`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// fileDest returns scan destinations matching fileColumns.
func fileDest(r *catalogue.FileRecord, modified, firstSeen, lastSeen *int64) []interface{} {
	return []interface{}{
		&r.ID, &r.HashPath, &r.ParentHashPath, &r.Realm, &r.Storage, &r.Path,
		&r.Directory, &r.Hidden, &r.Link, &r.Special, &r.Length,
		modified, firstSeen, lastSeen,
		&r.MarkedStable, &r.LastScanUnchanged, &r.StableButChanged,
	}
}

func scanFile(s rowScanner) (catalogue.FileRecord, error) {
	var r catalogue.FileRecord
	var modified, firstSeen, lastSeen int64
	if err := s.Scan(fileDest(&r, &modified, &firstSeen, &lastSeen)...); err != nil {
		return catalogue.FileRecord{}, err
	}
	r.ModifiedAt = fromMillis(modified)
	r.FirstSeenAt = fromMillis(firstSeen)
	r.LastSeenAt = fromMillis(lastSeen)
	return r, nil
}

func scanFiles(rows *sql.Rows) ([]catalogue.FileRecord, error) {
	defer rows.Close()
	var out []catalogue.FileRecord
	for rows.Next() {
		r, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindByHash returns the catalogue records for the given hash paths. Unknown
// hashes are ignored.
func (d *Database) FindByHash(ctx context.Context, hashes []string) ([]catalogue.FileRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_by_hash", start, err) }()

	var out []catalogue.FileRecord
	for _, chunk := range chunks(hashes) {
		var rows *sql.Rows
		rows, err = d.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE hash_path IN (`+placeholders(len(chunk))+`)`,
			toArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("find by hash: %w", err)
		}
		var recs []catalogue.FileRecord
		recs, err = scanFiles(rows)
		if err != nil {
			return nil, fmt.Errorf("find by hash: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// GetByHash returns one record or ErrNotFound.
func (d *Database) GetByHash(ctx context.Context, hash string) (catalogue.FileRecord, error) {
	start := time.Now()
	row := d.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE hash_path = ?`, hash)
	r, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		recordQuery("get_by_hash", start, nil)
		return catalogue.FileRecord{}, ErrNotFound
	}
	recordQuery("get_by_hash", start, err)
	if err != nil {
		return catalogue.FileRecord{}, fmt.Errorf("get by hash: %w", err)
	}
	return r, nil
}

// AllHashes returns every catalogued hash path for one storage.
func (d *Database) AllHashes(ctx context.Context, realm, storage string) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("all_hashes", start, err) }()

	rows, err := d.db.QueryContext(ctx, `SELECT hash_path FROM files WHERE realm = ? AND storage = ?`, realm, storage)
	if err != nil {
		return nil, fmt.Errorf("all hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err = rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("all hashes: %w", err)
		}
		out = append(out, h)
	}
	err = rows.Err()
	return out, err
}

// CountFor returns the number of catalogued entries for one storage.
func (d *Database) CountFor(ctx context.Context, realm, storage string) (int, error) {
	start := time.Now()
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE realm = ? AND storage = ?`, realm, storage).Scan(&n)
	recordQuery("count_for", start, err)
	return n, err
}

// CountByRealm returns the number of catalogued entries across a realm.
func (d *Database) CountByRealm(ctx context.Context, realm string) (int, error) {
	start := time.Now()
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE realm = ?`, realm).Scan(&n)
	recordQuery("count_by_realm", start, err)
	return n, err
}

const upsertFile = `
	INSERT INTO files (hash_path, parent_hash_path, realm, storage, path, directory, hidden, link, special,
		length, modified_at, first_seen_at, last_seen_at, marked_stable, last_scan_unchanged, stable_but_changed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(hash_path) DO UPDATE SET
		hidden = excluded.hidden,
		link = excluded.link,
		special = excluded.special,
		length = excluded.length,
		modified_at = excluded.modified_at,
		last_seen_at = excluded.last_seen_at,
		marked_stable = excluded.marked_stable,
		last_scan_unchanged = excluded.last_scan_unchanged,
		stable_but_changed = excluded.stable_but_changed`

func saveFiles(ctx context.Context, tx *Batch, records []catalogue.FileRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, upsertFile)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var affected int64
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.HashPath, r.ParentHashPath, r.Realm, r.Storage, r.Path,
			r.Directory, r.Hidden, r.Link, r.Special,
			r.Length, toMillis(r.ModifiedAt), toMillis(r.FirstSeenAt), toMillis(r.LastSeenAt),
			r.MarkedStable, r.LastScanUnchanged, r.StableButChanged)
		if err != nil {
			return affected, fmt.Errorf("save %s: %w", r.Path, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}
	return affected, nil
}

func deleteFiles(ctx context.Context, tx *Batch, hashes []string) (int64, error) {
	var affected int64
	for _, chunk := range chunks(hashes) {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM files WHERE hash_path IN (`+placeholders(len(chunk))+`)`, toArgs(chunk)...)
		if err != nil {
			return affected, err
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}
	return affected, nil
}

// SaveAll upserts the records keyed by hash path. Identity columns and
// first_seen_at are never overwritten.
func (d *Database) SaveAll(ctx context.Context, records []catalogue.FileRecord) error {
	return d.withBatch(ctx, "save_all", func(tx *Batch) error {
		n, err := saveFiles(ctx, tx, records)
		if n > 0 {
			metricsRows("save_all", n)
		}
		return err
	})
}

// DeleteByHash removes records and, through the foreign key, their claims.
func (d *Database) DeleteByHash(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	return d.withBatch(ctx, "delete_by_hash", func(tx *Batch) error {
		n, err := deleteFiles(ctx, tx, hashes)
		if n > 0 {
			metricsRows("delete_by_hash", n)
		}
		return err
	})
}

// ApplyScan persists one reconciliation diff atomically.
func (d *Database) ApplyScan(ctx context.Context, changes catalogue.ScanChanges) error {
	if len(changes.Upserts) == 0 && len(changes.Deletes) == 0 {
		return nil
	}
	return d.withBatch(ctx, "apply_scan", func(tx *Batch) error {
		saved, err := saveFiles(ctx, tx, changes.Upserts)
		if err != nil {
			return err
		}
		deleted, err := deleteFiles(ctx, tx, changes.Deletes)
		if err != nil {
			return fmt.Errorf("delete lost entries: %w", err)
		}
		metricsRows("apply_scan", saved+deleted)
		return nil
	})
}

func orderClause(opts catalogue.ListOptions) string {
	dir := "ASC"
	if opts.Order == catalogue.SortDesc {
		dir = "DESC"
	}
	switch {
	case opts.Order == catalogue.SortNone:
		return "id ASC"
	case opts.Sort == catalogue.SortType:
		return "directory " + flip(dir) + ", path " + dir
	case opts.Sort == catalogue.SortDate:
		return "modified_at " + dir + ", path ASC"
	case opts.Sort == catalogue.SortSize:
		return "length " + dir + ", path ASC"
	default:
		return "path " + dir
	}
}

// flip keeps directories first for an ascending type sort.
func flip(dir string) string {
	if dir == "ASC" {
		return "DESC"
	}
	return "ASC"
}

// ListByParent returns one page of the direct children of parentHash and
// the total number of children.
func (d *Database) ListByParent(ctx context.Context, parentHash string, opts catalogue.ListOptions) ([]catalogue.FileRecord, int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_by_parent", start, err) }()

	var total int
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE parent_hash_path = ? AND hash_path != ?`, parentHash, parentHash).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count children: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE parent_hash_path = ? AND hash_path != ?
		ORDER BY `+orderClause(opts)+` LIMIT ? OFFSET ?`,
		parentHash, parentHash, limit, opts.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list children: %w", err)
	}
	recs, err := scanFiles(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list children: %w", err)
	}
	return recs, total, nil
}

// Realms returns the distinct realms present in the catalogue.
func (d *Database) Realms(ctx context.Context) ([]string, error) {
	return d.distinct(ctx, "realms", `SELECT DISTINCT realm FROM files ORDER BY realm`)
}

// Storages returns the distinct storages catalogued for a realm.
func (d *Database) Storages(ctx context.Context, realm string) ([]string, error) {
	return d.distinct(ctx, "storages", `SELECT DISTINCT storage FROM files WHERE realm = ? ORDER BY storage`, realm)
}

func (d *Database) distinct(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	err = rows.Err()
	return out, err
}

// DeleteStoragesNotIn removes every catalogued storage of realm that is not
// listed in keep. It returns the number of deleted rows.
func (d *Database) DeleteStoragesNotIn(ctx context.Context, realm string, keep []string) (int64, error) {
	var deleted int64
	err := d.withBatch(ctx, "delete_storages_not_in", func(tx *Batch) error {
		query := `DELETE FROM files WHERE realm = ?`
		args := []interface{}{realm}
		if len(keep) > 0 {
			query += ` AND storage NOT IN (` + placeholders(len(keep)) + `)`
			args = append(args, toArgs(keep)...)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		observeRows("delete_storages_not_in", res)
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// ResetStorage wipes the catalogue of one storage.
func (d *Database) ResetStorage(ctx context.Context, realm, storage string) (int64, error) {
	var deleted int64
	err := d.withBatch(ctx, "reset_storage", func(tx *Batch) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE realm = ? AND storage = ?`, realm, storage)
		if err != nil {
			return err
		}
		observeRows("reset_storage", res)
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// StreamRealm calls fn for every record of a realm in id order, stopping at
// the first error.
func (d *Database) StreamRealm(ctx context.Context, realm string, fn func(catalogue.FileRecord) error) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("stream_realm", start, err) }()

	rows, err := d.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE realm = ? ORDER BY id`, realm)
	if err != nil {
		return fmt.Errorf("stream realm %s: %w", realm, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r catalogue.FileRecord
		r, err = scanFile(rows)
		if err != nil {
			return err
		}
		if err = fn(r); err != nil {
			return err
		}
	}
	err = rows.Err()
	return err
}
