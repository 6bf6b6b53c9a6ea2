package repo

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/fp"
)

// PostgresRepo implements DownloadRepo backed by PostgreSQL. It expects
// a table `downloads` with a unique index on `fingerprint`.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(dsn string) (*PostgresRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &PostgresRepo{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewPostgresRepoFromEnv constructs a DSN using component env vars.
// Recognized envs (with defaults):
//
//	POSTGRES_HOST (postgres), POSTGRES_PORT (5432), POSTGRES_DB (fetchd),
//	POSTGRES_USER (fetchd), POSTGRES_PASSWORD (empty), POSTGRES_SSLMODE (disable)
func NewPostgresRepoFromEnv() (*PostgresRepo, error) {
	host := getenv("POSTGRES_HOST", "postgres")
	port := getenv("POSTGRES_PORT", "5432")
	db := getenv("POSTGRES_DB", "fetchd")
	user := getenv("POSTGRES_USER", "fetchd")
	pass := getenv("POSTGRES_PASSWORD", "")
	ssl := getenv("POSTGRES_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	q := url.Values{}
	q.Set("sslmode", ssl)
	u.RawQuery = q.Encode()
	return NewPostgresRepo(u.String())
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (r *PostgresRepo) Close() error { return r.db.Close() }

var _ DownloadRepo = (*PostgresRepo)(nil)

func (r *PostgresRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downloads (
    id UUID PRIMARY KEY,
    task_id TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    target_path TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    desired_status TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE
);
`)
	return err
}

const selectCols = `id,task_id,source,target_path,name,status,desired_status,created_at`

func (r *PostgresRepo) List(ctx context.Context) (data.Downloads, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectCols+` FROM downloads ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out data.Downloads
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE id=$1`, id)
	dl, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

func (r *PostgresRepo) FindByTaskID(ctx context.Context, taskID data.TaskID) (*data.Download, error) {
	if taskID == "" {
		return nil, data.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE task_id=$1`, string(taskID))
	dl, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

// Add inserts the record, deduplicating on the fingerprint: when the
// (source, targetPath) pair already exists the stored row is returned.
func (r *PostgresRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	id := uuid.NewString()
	fprint := fp.Fingerprint(d.Source, d.TargetPath)
	err := r.db.QueryRowContext(ctx, `
WITH ins AS (
    INSERT INTO downloads (id,task_id,source,target_path,name,status,desired_status,created_at,fingerprint)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (fingerprint) DO NOTHING
    RETURNING id
)
SELECT id FROM ins
`, id, string(d.TaskID), d.Source, d.TargetPath, d.Name, string(d.Status), string(d.DesiredStatus), d.CreatedAt, fprint).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		return r.Get(ctx, id)
	}
	return r.getByFingerprint(ctx, fprint)
}

// Update fetches, mutates and writes back the record inside a
// row-locking transaction.
func (r *PostgresRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE id=$1 FOR UPDATE`, id)
	cur, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}

	newPrint := fp.Fingerprint(next.Source, next.TargetPath)
	if _, err := tx.ExecContext(ctx, `UPDATE downloads SET task_id=$1, source=$2, target_path=$3, name=$4, status=$5, desired_status=$6, fingerprint=$7 WHERE id=$8`,
		string(next.TaskID), next.Source, next.TargetPath, next.Name, string(next.Status), string(next.DesiredStatus), newPrint, id); err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	next.ID = id
	return next, nil
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id string, status data.DownloadStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE downloads SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) getByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM downloads WHERE fingerprint=$1`, fprint)
	dl, err := scanDownload(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDownload(rs rowScanner) (*data.Download, error) {
	var (
		id, taskID, source, target, name, status, desired string
		created                                           time.Time
	)
	if err := rs.Scan(&id, &taskID, &source, &target, &name, &status, &desired, &created); err != nil {
		return nil, err
	}
	return &data.Download{
		ID:            id,
		TaskID:        data.TaskID(taskID),
		Source:        source,
		TargetPath:    target,
		Name:          name,
		Status:        data.DownloadStatus(status),
		DesiredStatus: data.DownloadStatus(desired),
		CreatedAt:     created,
	}, nil
}

func isUniqueViolation(err error) bool {
	// pgx stdlib surfaces "duplicate key value violates unique constraint"
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
