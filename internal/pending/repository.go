package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codereplay/backend/internal/models"
)

// Repository stores pending uploads. pendingTable and summaryTable must be validated identifiers.
type Repository struct {
	pool         *pgxpool.Pool
	table        string
	summaryTable string
}

// NewRepository creates a pending record repository.
func NewRepository(pool *pgxpool.Pool, pendingTable, summaryTable string) *Repository {
	return &Repository{pool: pool, table: pendingTable, summaryTable: summaryTable}
}

// Insert creates the row for a freshly admitted upload.
func (r *Repository) Insert(ctx context.Context, rec *models.PendingRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (file_root, email, title, tag, description, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`, r.table)
	return r.pool.QueryRow(ctx, q, rec.FileRoot, rec.Email, rec.Title, rec.Tag, rec.Description, string(rec.ProcessingStatus)).
		Scan(&rec.CreatedAt)
}

// MarkFailed sets the row to failed.
func (r *Repository) MarkFailed(ctx context.Context, fileRoot int64) error {
	q := fmt.Sprintf(`UPDATE %s SET processing_status = $1, updated_at = NOW() WHERE file_root = $2`, r.table)
	_, err := r.pool.Exec(ctx, q, string(models.StatusFailed), fileRoot)
	return err
}

// DeleteByFileRoot removes the row once its summary exists.
func (r *Repository) DeleteByFileRoot(ctx context.Context, fileRoot int64) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_root = $1`, r.table), fileRoot)
	return err
}

// FindByStatusIn returns email's rows in any of statuses, newest first, with the owner's profile.
// Rows whose summary already exists are skipped.
func (r *Repository) FindByStatusIn(ctx context.Context, email string, statuses []models.ProcessingStatus) ([]models.PendingRecordWithUser, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	q := fmt.Sprintf(`SELECT p.file_root, p.email, p.title, p.tag, p.description, p.processing_status, p.created_at,
			COALESCE(u.name,''), COALESCE(u.picture,'')
		FROM %s p LEFT JOIN users u ON u.email = p.email
		WHERE p.email = $1 AND p.processing_status = ANY($2)
			AND NOT EXISTS (SELECT 1 FROM %s s WHERE s.file_root = p.file_root)
		ORDER BY p.file_root DESC`, r.table, r.summaryTable)
	rows, err := r.pool.Query(ctx, q, email, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.PendingRecordWithUser{}
	for rows.Next() {
		var rec models.PendingRecordWithUser
		var status string
		if err := rows.Scan(&rec.FileRoot, &rec.Email, &rec.Title, &rec.Tag, &rec.Description, &status, &rec.CreatedAt,
			&rec.User.Name, &rec.User.Picture); err != nil {
			return nil, err
		}
		rec.ProcessingStatus = models.ProcessingStatus(status)
		list = append(list, rec)
	}
	return list, rows.Err()
}

// MarkConfirmed records that the owner dismissed a failed upload. Rows of other owners and rows
// that are still processing are left alone.
func (r *Repository) MarkConfirmed(ctx context.Context, fileRoot int64, ownerEmail string) error {
	q := fmt.Sprintf(`UPDATE %s SET processing_status = $1, updated_at = NOW()
		WHERE file_root = $2 AND email = $3 AND processing_status = $4`, r.table)
	_, err := r.pool.Exec(ctx, q, string(models.StatusConfirmed), fileRoot, ownerEmail, string(models.StatusFailed))
	return err
}

// MaxFileRoot returns the largest fileRoot stored in either table, or 0 when both are empty.
func (r *Repository) MaxFileRoot(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`SELECT GREATEST(
		(SELECT COALESCE(MAX(file_root), 0) FROM %s),
		(SELECT COALESCE(MAX(file_root), 0) FROM %s))`, r.table, r.summaryTable)
	var n int64
	err := r.pool.QueryRow(ctx, q).Scan(&n)
	return n, err
}

// FailStale marks processing rows created before now-olderThan as failed and returns how many.
func (r *Repository) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	q := fmt.Sprintf(`UPDATE %s SET processing_status = $1, updated_at = NOW()
		WHERE processing_status = $2 AND created_at < NOW() - make_interval(secs => $3)`, r.table)
	tag, err := r.pool.Exec(ctx, q, string(models.StatusFailed), string(models.StatusProcessing), olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
