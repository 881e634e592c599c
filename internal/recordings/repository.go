package recordings

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codereplay/backend/internal/models"
)

// AllPages disables pagination in FindMatching.
const AllPages = -1

// invalidRegexCode is the SQLSTATE Postgres reports for a pattern its regex engine rejects.
const invalidRegexCode = "2201B"

const summaryColumns = `file_root, email, mode, duration, timestamp, title, tag, description,
	show_files, container_height, user_groups, forked_from`

// Repository handles recording summary persistence. table must be a validated identifier.
type Repository struct {
	pool  *pgxpool.Pool
	table string
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool, table string) *Repository {
	return &Repository{pool: pool, table: table}
}

// Insert stores a finished recording.
func (r *Repository) Insert(ctx context.Context, s *models.RecordingSummary) error {
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, r.table, summaryColumns)
	groups := s.UserGroups
	if groups == nil {
		groups = []string{}
	}
	_, err := r.pool.Exec(ctx, q, s.FileRoot, s.Email, s.Mode, s.Duration, s.Timestamp, s.Title, s.Tag, s.Description,
		s.ShowFiles, s.ContainerHeight, groups, s.ForkedFrom)
	return err
}

// FindByFileRoot returns a recording, or nil when none exists.
func (r *Repository) FindByFileRoot(ctx context.Context, fileRoot int64) (*models.RecordingSummary, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE file_root = $1`, summaryColumns, r.table)
	s, err := scanSummary(r.pool.QueryRow(ctx, q, fileRoot))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// FindMatching returns one page of matching recordings, newest first. Pages start at 1;
// AllPages returns every match.
func (r *Repository) FindMatching(ctx context.Context, p Predicate, page, pageSize int) ([]models.RecordingSummary, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY file_root DESC`, summaryColumns, r.table, p.SQL)
	args := append([]interface{}{}, p.Args...)
	if page != AllPages {
		if page < 1 || pageSize < 1 {
			return nil, fmt.Errorf("invalid page %d/%d", page, pageSize)
		}
		n := len(args)
		q += " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2)
		args = append(args, pageSize, (page-1)*pageSize)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, filterError(err)
	}
	defer rows.Close()
	list := []models.RecordingSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, filterError(err)
		}
		list = append(list, *s)
	}
	return list, filterError(rows.Err())
}

// CountMatching counts the recordings selected by p.
func (r *Repository) CountMatching(ctx context.Context, p Predicate) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, r.table, p.SQL), p.Args...).Scan(&n)
	return n, filterError(err)
}

// filterError reports patterns that passed ParseFilter but that Postgres refuses as ErrInvalidFilter.
func filterError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidRegexCode {
		return fmt.Errorf("%w: %s", ErrInvalidFilter, pgErr.Message)
	}
	return err
}

func scanSummary(row pgx.Row) (*models.RecordingSummary, error) {
	var s models.RecordingSummary
	err := row.Scan(&s.FileRoot, &s.Email, &s.Mode, &s.Duration, &s.Timestamp, &s.Title, &s.Tag, &s.Description,
		&s.ShowFiles, &s.ContainerHeight, &s.UserGroups, &s.ForkedFrom)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
