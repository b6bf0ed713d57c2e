package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tinytodo/tasksync/internal/record"
)

const taskColumns = `id, title, subtitle, due_date, is_completed, sort_order,
	last_modified_date, remote_record_id, last_sync_date, is_deleted, reject_reason`

// dirtyClause selects records with local changes the remote has not seen.
const dirtyClause = `(last_sync_date IS NULL OR last_modified_date > last_sync_date)`

// rejectedClause selects records the remote permanently refused.
const rejectedClause = `(reject_reason IS NOT NULL AND reject_reason != '')`

// Counts summarizes the store for status output.
type Counts struct {
	Live     int `json:"live"`
	Deleted  int `json:"deleted"`
	Dirty    int `json:"dirty"`
	Rejected int `json:"rejected"`
}

// ReconcileFunc computes the replacement for the current row of a record.
// cur is nil when the ID is not stored. Returning a nil record leaves the
// row untouched.
type ReconcileFunc func(cur *record.TaskRecord) (*record.TaskRecord, error)

// FetchAll returns every live record ordered by (due date, sort order).
// Tombstones are excluded.
func (db *DB) FetchAll(ctx context.Context) ([]*record.TaskRecord, error) {
	return db.queryTasks(ctx, "fetch tasks",
		`SELECT `+taskColumns+` FROM tasks WHERE is_deleted = 0 ORDER BY due_date, sort_order, id`)
}

// FetchAllIncludingDeleted returns every stored record, tombstones included,
// in listing order.
func (db *DB) FetchAllIncludingDeleted(ctx context.Context) ([]*record.TaskRecord, error) {
	return db.queryTasks(ctx, "fetch tasks",
		`SELECT `+taskColumns+` FROM tasks ORDER BY due_date, sort_order, id`)
}

// FetchByID returns the record with the given ID, tombstones included.
func (db *DB) FetchByID(ctx context.Context, id string) (*record.TaskRecord, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}

	row := db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("fetch task", err)
	}
	return task, nil
}

// Insert stores a new record created locally. LastModifiedDate is stamped
// on task and change listeners are notified.
func (db *DB) Insert(ctx context.Context, task *record.TaskRecord) error {
	stamped := task.Clone()
	stamped.LastModifiedDate = stamped.NextModified(db.clock())
	stamped.RejectReason = ""

	if err := db.insert(ctx, stamped); err != nil {
		return err
	}

	task.LastModifiedDate = stamped.LastModifiedDate
	task.RejectReason = ""
	db.notifyChange()
	return nil
}

// InsertReconciled stores a record that arrived from the remote or an
// import. Fields are written exactly as given and nobody is notified.
func (db *DB) InsertReconciled(ctx context.Context, task *record.TaskRecord) error {
	return db.insert(ctx, task)
}

func (db *DB) insert(ctx context.Context, task *record.TaskRecord) error {
	if err := task.Validate(); err != nil {
		return err
	}

	unlock := db.locks.lock(task.ID)
	defer unlock()

	return db.withTx(ctx, "insert task", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, task.ID).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, task.ID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return unavailable("check task id", err)
		}
		return writeTask(ctx, tx, task)
	})
}

// Update applies mutate to the stored record and persists the result.
//
// The mutator receives a copy; it must not change the ID. LastModifiedDate
// is bumped and any RejectReason cleared, so the record is queued for the
// next outbound pass. Returns the stored record.
func (db *DB) Update(ctx context.Context, id string, mutate func(*record.TaskRecord) error) (*record.TaskRecord, error) {
	unlock := db.locks.lock(id)
	defer unlock()

	var updated *record.TaskRecord
	err := db.withTx(ctx, "update task", func(tx *sql.Tx) error {
		cur, err := fetchTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		if next.ID != id {
			return fmt.Errorf("%w: id cannot change (%s -> %s)", record.ErrInvalid, id, next.ID)
		}
		next.LastModifiedDate = cur.NextModified(db.clock())
		next.RejectReason = ""
		if err := next.Validate(); err != nil {
			return err
		}

		if err := writeTask(ctx, tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.notifyChange()
	return updated, nil
}

// SoftDelete tombstones the record. The tombstone stays resolvable by ID
// until Purge.
func (db *DB) SoftDelete(ctx context.Context, id string) error {
	_, err := db.Update(ctx, id, func(task *record.TaskRecord) error {
		task.IsDeleted = true
		return nil
	})
	return err
}

// Reconcile runs fn against the current row of id and writes whatever it
// returns. The read, fn and the write happen under the per-ID lock in one
// transaction, so fn always decides against the latest local state.
//
// This is the sync engine's write path: nothing is bumped and change
// listeners are not notified. Returns the row as stored afterwards (nil if
// it is still absent).
func (db *DB) Reconcile(ctx context.Context, id string, fn ReconcileFunc) (*record.TaskRecord, error) {
	unlock := db.locks.lock(id)
	defer unlock()

	var result *record.TaskRecord
	err := db.withTx(ctx, "reconcile task", func(tx *sql.Tx) error {
		cur, err := fetchTx(ctx, tx, id)
		if err != nil {
			return err
		}

		var arg *record.TaskRecord
		if cur != nil {
			arg = cur.Clone()
		}
		next, err := fn(arg)
		if err != nil {
			return err
		}
		if next == nil {
			result = cur
			return nil
		}
		if next.ID != id {
			return fmt.Errorf("%w: id cannot change (%s -> %s)", record.ErrInvalid, id, next.ID)
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := writeTask(ctx, tx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Dirty returns the outbound candidates: records never synced or changed
// since their last sync, tombstones included. Rejected records are skipped
// until a local edit clears the rejection.
func (db *DB) Dirty(ctx context.Context) ([]*record.TaskRecord, error) {
	return db.queryTasks(ctx, "fetch dirty tasks",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE `+dirtyClause+` AND NOT `+rejectedClause+`
		 ORDER BY last_modified_date, id`)
}

// Rejected returns the records the remote permanently refused.
func (db *DB) Rejected(ctx context.Context) ([]*record.TaskRecord, error) {
	return db.queryTasks(ctx, "fetch rejected tasks",
		`SELECT `+taskColumns+` FROM tasks WHERE `+rejectedClause+` ORDER BY last_modified_date, id`)
}

// Purge permanently removes a tombstone whose deletion the remote has
// confirmed. Live or unsynced records return ErrNotPurgeable.
func (db *DB) Purge(ctx context.Context, id string) error {
	unlock := db.locks.lock(id)
	defer unlock()

	return db.withTx(ctx, "purge task", func(tx *sql.Tx) error {
		cur, err := fetchTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if !cur.IsDeleted || cur.IsDirty() {
			return fmt.Errorf("%w: %s", ErrNotPurgeable, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return unavailable("purge task", err)
		}
		return nil
	})
}

// PurgeSynced removes every tombstone whose deletion has been synced and
// returns how many were removed.
func (db *DB) PurgeSynced(ctx context.Context) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM tasks WHERE is_deleted = 1 AND NOT `+dirtyClause)
	if err != nil {
		return 0, unavailable("purge synced tombstones", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("count purged tombstones", err)
	}
	return int(n), nil
}

// Counts returns live/deleted/dirty/rejected totals.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	if err := db.ready(); err != nil {
		return c, err
	}

	err := db.conn.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN is_deleted = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_deleted = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN `+dirtyClause+` AND NOT `+rejectedClause+` THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN `+rejectedClause+` THEN 1 ELSE 0 END), 0)
		FROM tasks
	`).Scan(&c.Live, &c.Deleted, &c.Dirty, &c.Rejected)
	if err != nil {
		return c, unavailable("count tasks", err)
	}
	return c, nil
}

// Cursor returns the persisted pull cursor for kind, or the zero time when
// no pass has completed yet.
func (db *DB) Cursor(ctx context.Context, kind string) (time.Time, error) {
	if err := db.ready(); err != nil {
		return time.Time{}, err
	}

	var since string
	err := db.conn.QueryRowContext(ctx, `SELECT since FROM sync_cursors WHERE kind = ?`, kind).Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, unavailable("read sync cursor", err)
	}

	t, err := parseTime(since)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse sync cursor %q: %w", since, err)
	}
	return t, nil
}

// SetCursor persists the pull cursor for kind.
func (db *DB) SetCursor(ctx context.Context, kind string, since time.Time) error {
	if err := db.ready(); err != nil {
		return err
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_cursors (kind, since) VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET since = excluded.since
	`, kind, formatTime(since))
	if err != nil {
		return unavailable("write sync cursor", err)
	}
	return nil
}

// ResetCursor forgets the pull cursor for kind so the next pass pulls the
// full remote state.
func (db *DB) ResetCursor(ctx context.Context, kind string) error {
	if err := db.ready(); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_cursors WHERE kind = ?`, kind); err != nil {
		return unavailable("reset sync cursor", err)
	}
	return nil
}

func (db *DB) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := db.ready(); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (db *DB) queryTasks(ctx context.Context, op, query string, args ...any) ([]*record.TaskRecord, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var tasks []*record.TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return tasks, nil
}

// fetchTx reads one row inside tx. A missing row returns (nil, nil).
func fetchTx(ctx context.Context, tx *sql.Tx, id string) (*record.TaskRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("fetch task", err)
	}
	return task, nil
}

func writeTask(ctx context.Context, tx *sql.Tx, task *record.TaskRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			subtitle = excluded.subtitle,
			due_date = excluded.due_date,
			is_completed = excluded.is_completed,
			sort_order = excluded.sort_order,
			last_modified_date = excluded.last_modified_date,
			remote_record_id = excluded.remote_record_id,
			last_sync_date = excluded.last_sync_date,
			is_deleted = excluded.is_deleted,
			reject_reason = excluded.reject_reason
	`,
		task.ID,
		task.Title,
		ptrToNull(task.Subtitle),
		formatTime(task.DueDate),
		boolToInt(task.IsCompleted),
		task.SortOrder,
		formatTime(task.LastModifiedDate),
		stringToNull(task.RemoteRecordID),
		timeToNullString(task.LastSyncDate),
		boolToInt(task.IsDeleted),
		stringToNull(task.RejectReason),
	)
	if err != nil {
		return unavailable("write task", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*record.TaskRecord, error) {
	var (
		task                  record.TaskRecord
		subtitle, remoteID    sql.NullString
		lastSync, reject      sql.NullString
		dueDate, lastModified string
		isCompleted, deleted  int
	)

	err := row.Scan(
		&task.ID,
		&task.Title,
		&subtitle,
		&dueDate,
		&isCompleted,
		&task.SortOrder,
		&lastModified,
		&remoteID,
		&lastSync,
		&deleted,
		&reject,
	)
	if err != nil {
		return nil, err
	}

	if subtitle.Valid {
		s := subtitle.String
		task.Subtitle = &s
	}
	task.IsCompleted = isCompleted != 0
	task.IsDeleted = deleted != 0
	task.RemoteRecordID = remoteID.String
	task.RejectReason = reject.String

	if task.DueDate, err = parseTime(dueDate); err != nil {
		return nil, fmt.Errorf("failed to parse due_date %q: %w", dueDate, err)
	}
	if task.LastModifiedDate, err = parseTime(lastModified); err != nil {
		return nil, fmt.Errorf("failed to parse last_modified_date %q: %w", lastModified, err)
	}
	if task.LastSyncDate, err = nullStringToTime(lastSync); err != nil {
		return nil, fmt.Errorf("failed to parse last_sync_date %q: %w", lastSync.String, err)
	}

	return &task, nil
}
