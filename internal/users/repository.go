package users

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codereplay/backend/internal/models"
)

// Repository handles user profile persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert stores the profile, replacing name and picture of an existing row.
func (r *Repository) Upsert(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (email, name, picture) VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, picture = EXCLUDED.picture, updated_at = NOW()
		RETURNING updated_at`
	return r.pool.QueryRow(ctx, q, u.Email, u.Name, u.Picture).Scan(&u.UpdatedAt)
}

// PublicProfiles returns the public profile of every known email in emails.
func (r *Repository) PublicProfiles(ctx context.Context, emails []string) (map[string]models.UserPublic, error) {
	out := make(map[string]models.UserPublic, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT email, COALESCE(name,''), COALESCE(picture,'') FROM users WHERE email = ANY($1)`, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var email string
		var p models.UserPublic
		if err := rows.Scan(&email, &p.Name, &p.Picture); err != nil {
			return nil, err
		}
		out[email] = p
	}
	return out, rows.Err()
}
