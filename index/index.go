// Package index maintains the durable branch↔PR↔issue↔session
// correlation index on SQLite.
package index

import (
	"context"
	"database/sql"
	"hash/fnv"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arii/leaderops/errors"
)

// StaleAfter is how long a session may go without activity before the
// workstream is flagged stale.
const StaleAfter = 24 * time.Hour

// Record is one correlation row. Branch is the primary key; the other
// identifiers are optional and filled in as they become known.
type Record struct {
	Branch      string
	PRNumber    *int
	IssueNumber *int
	SessionID   *string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stale reports whether an active record has gone without updates for
// longer than StaleAfter.
func (r *Record) Stale(now time.Time) bool {
	return r.Active && r.SessionID != nil && now.Sub(r.UpdatedAt) > StaleAfter
}

const lockStripes = 32

// Store reads and writes correlation records. Writes to the same branch
// are serialized through striped locks; SQLite's WAL mode keeps lookups
// from blocking behind them.
type Store struct {
	db    *sql.DB
	log   *zap.SugaredLogger
	locks [lockStripes]sync.Mutex
}

// NewStore wraps an open database (schema already migrated).
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) lockFor(branch string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(branch))
	return &s.locks[h.Sum32()%lockStripes]
}

// Upsert merges rec into the index. Fields that are nil in rec never
// overwrite values already recorded, so partial updates from different
// sources union rather than clobber. A new session ID reactivates the
// record.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	if rec.Branch == "" {
		return errors.New("correlation record requires a branch")
	}

	mu := s.lockFor(rec.Branch)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlations (branch, pr_number, issue_number, session_id, active, updated_at)
		VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(branch) DO UPDATE SET
			pr_number    = COALESCE(excluded.pr_number, pr_number),
			issue_number = COALESCE(excluded.issue_number, issue_number),
			session_id   = COALESCE(excluded.session_id, session_id),
			active       = CASE WHEN excluded.session_id IS NOT NULL THEN 1 ELSE active END,
			updated_at   = CURRENT_TIMESTAMP`,
		rec.Branch, rec.PRNumber, rec.IssueNumber, rec.SessionID)
	if err != nil {
		return errors.Wrapf(err, "upsert correlation for branch %s", rec.Branch)
	}

	s.log.Debugw("Correlation upserted", "branch", rec.Branch)
	return nil
}

// GetByBranch returns the record for branch, or ErrNotFound.
func (s *Store) GetByBranch(ctx context.Context, branch string) (*Record, error) {
	return s.queryOne(ctx, "branch = ?", branch)
}

// GetByPR returns the record correlated with a PR number.
func (s *Store) GetByPR(ctx context.Context, number int) (*Record, error) {
	return s.queryOne(ctx, "pr_number = ?", number)
}

// GetByIssue returns the record correlated with an issue number.
func (s *Store) GetByIssue(ctx context.Context, number int) (*Record, error) {
	return s.queryOne(ctx, "issue_number = ?", number)
}

// GetBySession returns the record correlated with a session ID.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (*Record, error) {
	return s.queryOne(ctx, "session_id = ?", sessionID)
}

var prRefPattern = regexp.MustCompile(`^#?(\d+)$`)

// Lookup resolves a free-form identifier: branch name first, then PR
// reference ("#160" or "160"), then issue reference. First match wins.
func (s *Store) Lookup(ctx context.Context, identifier string) (*Record, error) {
	if rec, err := s.GetByBranch(ctx, identifier); err == nil {
		return rec, nil
	} else if !errors.IsNotFoundError(err) {
		return nil, err
	}

	if m := prRefPattern.FindStringSubmatch(identifier); m != nil {
		number, _ := strconv.Atoi(m[1])
		if rec, err := s.GetByPR(ctx, number); err == nil {
			return rec, nil
		} else if !errors.IsNotFoundError(err) {
			return nil, err
		}
		if rec, err := s.GetByIssue(ctx, number); err == nil {
			return rec, nil
		} else if !errors.IsNotFoundError(err) {
			return nil, err
		}
	}

	return nil, errors.NewNotFoundError("correlation for %q", identifier)
}

// MarkClosed clears the active flag but keeps the row for history.
func (s *Store) MarkClosed(ctx context.Context, branch string) error {
	mu := s.lockFor(branch)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE correlations SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE branch = ?", branch)
	if err != nil {
		return errors.Wrapf(err, "mark closed %s", branch)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("correlation for branch %q", branch)
	}
	return nil
}

// Remove deletes the row. Reserved for session deletion and branch
// retirement; normal lifecycle uses MarkClosed.
func (s *Store) Remove(ctx context.Context, branch string) error {
	mu := s.lockFor(branch)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM correlations WHERE branch = ?", branch)
	if err != nil {
		return errors.Wrapf(err, "remove correlation %s", branch)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("correlation for branch %q", branch)
	}
	return nil
}

// List returns all records, most recently updated first. activeOnly
// filters out closed rows.
func (s *Store) List(ctx context.Context, activeOnly bool) ([]Record, error) {
	query := `SELECT branch, pr_number, issue_number, session_id, active, created_at, updated_at
		FROM correlations`
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list correlations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, errors.Wrap(rows.Err(), "list correlations")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var prNumber, issueNumber sql.NullInt64
	var sessionID sql.NullString
	var active int

	err := row.Scan(&rec.Branch, &prNumber, &issueNumber, &sessionID, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if prNumber.Valid {
		n := int(prNumber.Int64)
		rec.PRNumber = &n
	}
	if issueNumber.Valid {
		n := int(issueNumber.Int64)
		rec.IssueNumber = &n
	}
	if sessionID.Valid {
		rec.SessionID = &sessionID.String
	}
	rec.Active = active != 0
	return &rec, nil
}

func (s *Store) queryOne(ctx context.Context, where string, arg interface{}) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT branch, pr_number, issue_number, session_id, active, created_at, updated_at
		FROM correlations WHERE `+where+` ORDER BY updated_at DESC LIMIT 1`, arg)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("correlation where %s = %v", where, arg)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query correlation")
	}
	return rec, nil
}
