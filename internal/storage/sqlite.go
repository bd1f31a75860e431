package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

const accountColumns = `id, platform, username, display_name, enabled, last_status, last_title,
	last_checked_at, next_check_at, current_interval_ms, consecutive_offline_checks, created_at`

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps the pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate %s: %w", path, err)
	}
	return st, nil
}

// sqliteDSN sets the connection pragmas through modernc's _pragma query
// parameters so they apply to every connection the pool opens.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	ddl, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(ddl))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (stream.Account, error) {
	var (
		a                     stream.Account
		display, title        sql.NullString
		checkedAt, nextAt     sql.NullInt64
		enabled               int
		intervalMS, createdAt int64
		status                string
	)
	err := r.Scan(&a.ID, &a.Platform, &a.Username, &display, &enabled, &status, &title,
		&checkedAt, &nextAt, &intervalMS, &a.ConsecutiveOfflineChecks, &createdAt)
	if err != nil {
		return stream.Account{}, err
	}
	a.DisplayName = display.String
	a.LastTitle = title.String
	a.Enabled = enabled != 0
	a.LastStatus = stream.Status(status)
	a.LastCheckedAt = fromMillis(checkedAt)
	a.NextCheckAt = fromMillis(nextAt)
	a.CurrentInterval = time.Duration(intervalMS) * time.Millisecond
	a.CreatedAt = time.UnixMilli(createdAt)
	return a, nil
}

func (s *sqliteStore) ListAccounts(ctx context.Context) ([]stream.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY seq, created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []stream.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetAccount(ctx context.Context, id string) (stream.Account, error) {
	return getAccount(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAccount(ctx context.Context, q queryer, id string) (stream.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Account{}, ErrNotFound
	}
	return a, err
}

func (s *sqliteStore) CreateAccount(ctx context.Context, a stream.Account) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id is required")
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM accounts WHERE id = ? OR (platform = ? AND username = ? COLLATE NOCASE)`,
		a.ID, string(a.Platform), a.Username).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrDuplicate
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts(`+accountColumns+`, seq)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM accounts))`,
		a.ID, string(a.Platform), a.Username, nullStr(a.DisplayName), boolInt(a.Enabled), string(a.LastStatus),
		nullStr(a.LastTitle), toMillis(a.LastCheckedAt), toMillis(a.NextCheckAt),
		a.CurrentInterval.Milliseconds(), a.ConsecutiveOfflineChecks, a.CreatedAt.UnixMilli(),
	)
	return err
}

// UpdateAccount reads, patches and writes the row in one transaction.
func (s *sqliteStore) UpdateAccount(ctx context.Context, id string, p stream.Patch) (stream.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stream.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := getAccount(ctx, tx, id)
	if err != nil {
		return stream.Account{}, err
	}
	p.Apply(&a)
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET display_name = ?, enabled = ?, last_status = ?, last_title = ?,
		   last_checked_at = ?, next_check_at = ?, current_interval_ms = ?, consecutive_offline_checks = ?
		 WHERE id = ?`,
		nullStr(a.DisplayName), boolInt(a.Enabled), string(a.LastStatus), nullStr(a.LastTitle),
		toMillis(a.LastCheckedAt), toMillis(a.NextCheckAt), a.CurrentInterval.Milliseconds(),
		a.ConsecutiveOfflineChecks, id,
	)
	if err != nil {
		return stream.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return stream.Account{}, err
	}
	return a, nil
}

func (s *sqliteStore) RemoveAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e LiveEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO live_events(account_id, platform, username, display_name, title, at) VALUES(?,?,?,?,?,?)`,
		e.AccountID, string(e.Platform), e.Username, nullStr(e.DisplayName), nullStr(e.Title), e.At.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RecentEvents(ctx context.Context, limit int) ([]LiveEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, platform, username, display_name, title, at
		 FROM live_events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LiveEvent
	for rows.Next() {
		var (
			e              LiveEvent
			display, title sql.NullString
			at             int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Platform, &e.Username, &display, &title, &at); err != nil {
			return nil, err
		}
		e.DisplayName = display.String
		e.Title = title.String
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM live_events WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// Compact drops expired dedup keys and checkpoints the WAL.
func (s *sqliteStore) Compact(ctx context.Context) error {
	if err := s.pruneExpired(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
