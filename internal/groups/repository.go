package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codereplay/backend/internal/models"
)

var (
	// ErrGroupNotFound is returned for unknown or inactive groups.
	ErrGroupNotFound = errors.New("group not found")
	// ErrNotCreator is returned when a non-creator tries to change a group.
	ErrNotCreator = errors.New("only the group creator can change it")
)

// Repository handles recording group persistence. table must be a validated identifier.
type Repository struct {
	pool    *pgxpool.Pool
	table   string
	members string
}

// NewRepository creates a groups repository over table and its <table>_members companion.
func NewRepository(pool *pgxpool.Pool, table string) *Repository {
	return &Repository{pool: pool, table: table, members: table + "_members"}
}

// Create inserts a group with creator as its first member.
func (r *Repository) Create(ctx context.Context, name, creator string) (*models.GroupMembership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m := &models.GroupMembership{Role: models.GroupRoleCreator}
	q := fmt.Sprintf(`INSERT INTO %s (name, creator_email) VALUES ($1, $2) RETURNING id, name, creator_email, active, created_at`, r.table)
	if err := tx.QueryRow(ctx, q, name, creator).Scan(&m.ID, &m.Name, &m.CreatorEmail, &m.Active, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert group: %w", err)
	}
	q = fmt.Sprintf(`INSERT INTO %s (group_id, email, role) VALUES ($1, $2, $3)`, r.members)
	if _, err := tx.Exec(ctx, q, m.ID, creator, string(models.GroupRoleCreator)); err != nil {
		return nil, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// ListForUser returns every group email belongs to, active or not.
func (r *Repository) ListForUser(ctx context.Context, email string) ([]models.GroupMembership, error) {
	q := fmt.Sprintf(`SELECT g.id, g.name, g.creator_email, g.active, g.created_at, m.role
		FROM %s g JOIN %s m ON m.group_id = g.id
		WHERE m.email = $1 ORDER BY g.created_at`, r.table, r.members)
	rows, err := r.pool.Query(ctx, q, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.GroupMembership{}
	for rows.Next() {
		var m models.GroupMembership
		var role string
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatorEmail, &m.Active, &m.CreatedAt, &role); err != nil {
			return nil, err
		}
		m.Role = models.GroupRole(role)
		list = append(list, m)
	}
	return list, rows.Err()
}

// Join adds email to an active group. Joining twice is a no-op.
func (r *Repository) Join(ctx context.Context, groupID uuid.UUID, email string) error {
	q := fmt.Sprintf(`INSERT INTO %s (group_id, email, role)
		SELECT id, $2, $3 FROM %s WHERE id = $1 AND active
		ON CONFLICT (group_id, email) DO NOTHING`, r.members, r.table)
	tag, err := r.pool.Exec(ctx, q, groupID, email, string(models.GroupRoleMember))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := r.isMember(ctx, groupID, email)
		if err != nil {
			return err
		}
		if !exists {
			return ErrGroupNotFound
		}
	}
	return nil
}

func (r *Repository) isMember(ctx context.Context, groupID uuid.UUID, email string) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s g JOIN %s m ON m.group_id = g.id
		WHERE g.id = $1 AND g.active AND m.email = $2)`, r.table, r.members)
	var ok bool
	err := r.pool.QueryRow(ctx, q, groupID, email).Scan(&ok)
	return ok, err
}

// SetActive toggles a group. Only its creator may do so.
func (r *Repository) SetActive(ctx context.Context, groupID uuid.UUID, email string, active bool) error {
	var creator string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT creator_email FROM %s WHERE id = $1`, r.table), groupID).Scan(&creator)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrGroupNotFound
		}
		return err
	}
	if creator != email {
		return ErrNotCreator
	}
	_, err = r.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET active = $1 WHERE id = $2`, r.table), active, groupID)
	return err
}

// ActiveGroupIDs returns the ids of the active groups email belongs to.
func (r *Repository) ActiveGroupIDs(ctx context.Context, email string) ([]string, error) {
	q := fmt.Sprintf(`SELECT g.id::text FROM %s g JOIN %s m ON m.group_id = g.id
		WHERE m.email = $1 AND g.active ORDER BY g.created_at`, r.table, r.members)
	rows, err := r.pool.Query(ctx, q, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
