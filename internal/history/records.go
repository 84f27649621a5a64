package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is the persisted summary of one dispatch.
type Record struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Args            []string
	Decision        string
	ArgsChanged     bool
	ChangedPaths    []string
	DescriptionDirs []string
	BuildFailed     bool
	ErrorMessage    string
}

// Duration returns how long the dispatch ran.
func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Append stores a dispatch record.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("history record requires an id")
	}
	args, err := encodeList(rec.Args)
	if err != nil {
		return err
	}
	changed, err := encodeList(rec.ChangedPaths)
	if err != nil {
		return err
	}
	dirs, err := encodeList(rec.DescriptionDirs)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO dispatches (id, started_at, finished_at, args_json, decision, args_changed, changed_json, dirs_json, build_failed, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.FinishedAt.UTC().Format(timeLayout),
		args,
		rec.Decision,
		boolToInt(rec.ArgsChanged),
		changed,
		dirs,
		boolToInt(rec.BuildFailed),
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, started_at, finished_at, args_json, decision, args_changed, changed_json, dirs_json, build_failed, error_message
		FROM dispatches ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM dispatches").Scan(&n); err != nil {
		return 0, fmt.Errorf("count dispatches: %w", err)
	}
	return n, nil
}

// Prune deletes records that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM dispatches WHERE started_at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	return res.RowsAffected()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec                      Record
		started, finished        string
		argsJSON, changed, dirs  string
		argsChanged, buildFailed int
	)
	if err := rows.Scan(&rec.ID, &started, &finished, &argsJSON, &rec.Decision, &argsChanged, &changed, &dirs, &buildFailed, &rec.ErrorMessage); err != nil {
		return Record{}, fmt.Errorf("scan dispatch: %w", err)
	}
	var err error
	if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Record{}, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Record{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if rec.Args, err = decodeList(argsJSON); err != nil {
		return Record{}, err
	}
	if rec.ChangedPaths, err = decodeList(changed); err != nil {
		return Record{}, err
	}
	if rec.DescriptionDirs, err = decodeList(dirs); err != nil {
		return Record{}, err
	}
	rec.ArgsChanged = argsChanged != 0
	rec.BuildFailed = buildFailed != 0
	return rec, nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
