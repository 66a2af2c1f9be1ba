package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, salt, kdf_type, kdf_iterations, kdf_memory, kdf_parallelism, pwd_hash, salt_auth, wrapped_user_key, created_at, updated_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, salt, kdf_type, kdf_iterations, kdf_memory, kdf_parallelism, pwd_hash, salt_auth, wrapped_user_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Username, u.Salt,
		int(u.Kdf.Type), u.Kdf.Iterations, u.Kdf.Memory, u.Kdf.Parallelism,
		u.PwdHash, u.SaltAuth, string(u.WrappedUserKey))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	var (
		u       model.User
		kdfType int
		wrapped string
	)
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Username, &u.Salt,
		&kdfType, &u.Kdf.Iterations, &u.Kdf.Memory, &u.Kdf.Parallelism,
		&u.PwdHash, &u.SaltAuth, &wrapped, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Kdf.Type = model.KdfType(kdfType)
	u.WrappedUserKey = model.EncString(wrapped)
	return &u, nil
}

// UpdateKdf replaces KDF parameters, the server hash and the wrapped user key. The
// pwd_hash guard turns a concurrent rotation into errs.ErrVersionConflict.
func (r *UserRepo) UpdateKdf(ctx context.Context, id uuid.UUID, oldPwdHash []byte, upd model.KdfUpdate) error {
	const q = `
UPDATE users
SET kdf_type = $3, kdf_iterations = $4, kdf_memory = $5, kdf_parallelism = $6,
    pwd_hash = $7, salt_auth = $8, wrapped_user_key = $9, updated_at = now()
WHERE id = $1 AND pwd_hash = $2`
	tag, err := r.db.Pool.Exec(ctx, q, id, oldPwdHash,
		int(upd.Kdf.Type), upd.Kdf.Iterations, upd.Kdf.Memory, upd.Kdf.Parallelism,
		upd.PwdHash, upd.SaltAuth, string(upd.WrappedUserKey))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}
