package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/gk-unlock/internal/errs"
	"github.com/and161185/gk-unlock/internal/model"
	"github.com/and161185/gk-unlock/internal/repository"
)

var _ repository.UserRepository = (*UserRepo)(nil)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var argonKdf = model.KdfConfig{Type: model.KdfTypeArgon2id, Iterations: 3, Memory: 64, Parallelism: 4}

const insertUser = `INSERT INTO users \(id, username, salt, kdf_type, kdf_iterations, kdf_memory, kdf_parallelism, pwd_hash, salt_auth, wrapped_user_key\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)`

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{
		ID:             uuid.Must(uuid.NewV4()),
		Username:       "alice",
		Salt:           "alice",
		Kdf:            argonKdf,
		PwdHash:        []byte("h"),
		SaltAuth:       []byte("s"),
		WrappedUserKey: "7.wrapped",
	}
	args := []any{u.ID, u.Username, u.Salt, 1, 3, 64, 4, u.PwdHash, u.SaltAuth, "7.wrapped"}

	mock.ExpectExec(insertUser).WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(insertUser).WithArgs(args...).WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, u), errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func userRows(id uuid.UUID, name string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{"id", "username", "salt", "kdf_type", "kdf_iterations", "kdf_memory", "kdf_parallelism", "pwd_hash", "salt_auth", "wrapped_user_key", "created_at", "updated_at"}).
		AddRow(id, name, name, 1, 3, 64, 4, []byte("h"), []byte("s"), "7.wrapped", now, now)
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	const q = `SELECT id, username, salt, kdf_type, .* FROM users WHERE id=\$1`

	mock.ExpectQuery(q).WithArgs(id).WillReturnRows(userRows(id, "u"))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, argonKdf, u.Kdf)
	require.Equal(t, model.EncString("7.wrapped"), u.WrappedUserKey)

	mock.ExpectQuery(q).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectQuery(q).WithArgs(id).WillReturnError(errors.New("conn reset"))
	_, err = r.GetByID(ctx, id)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	const q = `SELECT id, username, .* FROM users WHERE username=\$1`

	mock.ExpectQuery(q).WithArgs("u2").WillReturnRows(userRows(id, "u2"))
	u, err := r.GetByUsername(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, "u2", u.Username)
	require.Equal(t, "u2", u.Salt)

	mock.ExpectQuery(q).WithArgs("u2").WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "u2")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_UpdateKdf(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	old := []byte("old-hash")
	upd := model.KdfUpdate{Kdf: argonKdf, PwdHash: []byte("new-hash"), SaltAuth: []byte("salt2"), WrappedUserKey: "7.new"}
	const q = `UPDATE users SET kdf_type = \$3, .* WHERE id = \$1 AND pwd_hash = \$2`
	args := []any{id, old, 1, 3, 64, 4, upd.PwdHash, upd.SaltAuth, "7.new"}

	mock.ExpectExec(q).WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.UpdateKdf(ctx, id, old, upd))

	mock.ExpectExec(q).WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.UpdateKdf(ctx, id, old, upd), errs.ErrVersionConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}
