package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

var testPolicy = Policy{Window: 15 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func TestPG_Allow(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, testPolicy)
	ctx := context.Background()
	ip := HashIP("127.0.0.1")
	const q = `SELECT blocked_until FROM auth_limiter WHERE scope=\$1 AND subject=\$2 AND ip_hash=\$3`

	mock.ExpectQuery(q).WithArgs("login", "alice", ip).WillReturnError(pgx.ErrNoRows)
	ok, _, err := l.Allow(ctx, ScopeLogin, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(q).WithArgs("login", "alice", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(time.Minute)))
	ok, wait, err := l.Allow(ctx, ScopeLogin, "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, wait, time.Duration(0))

	mock.ExpectQuery(q).WithArgs("kdf", "alice", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(-time.Minute)))
	ok, _, err = l.Allow(ctx, ScopeKdf, "alice", ip)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(q).WithArgs("login", "alice", ip).WillReturnError(errors.New("db down"))
	_, _, err = l.Allow(ctx, ScopeLogin, "alice", ip)
	require.Error(t, err)
}

func TestPG_FailureBlocksAtThreshold(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, testPolicy)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	mock.ExpectQuery(`INSERT INTO auth_limiter .* RETURNING fail_count`).
		WithArgs("login", "bob", ip, testPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(1))
	blocked, _, err := l.Failure(ctx, ScopeLogin, "bob", ip)
	require.NoError(t, err)
	require.False(t, blocked)

	mock.ExpectQuery(`INSERT INTO auth_limiter .* RETURNING fail_count`).
		WithArgs("login", "bob", ip, testPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until = \$4 WHERE scope = \$1 AND subject = \$2 AND ip_hash = \$3`).
		WithArgs("login", "bob", ip, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, wait, err := l.Failure(ctx, ScopeLogin, "bob", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, testPolicy.BlockFor, wait)
}

func TestPG_Success(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, testPolicy)
	ip := HashIP("10.0.0.2")
	mock.ExpectExec(`INSERT INTO auth_limiter .* DO UPDATE SET fail_count = 0`).
		WithArgs("kdf", "carol", ip).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), ScopeKdf, "carol", ip))
}

func TestHashIP_Stable(t *testing.T) {
	require.Equal(t, HashIP("1.2.3.4"), HashIP("1.2.3.4"))
	require.NotEqual(t, HashIP("1.2.3.4"), HashIP("1.2.3.5"))
	require.Len(t, HashIP("x"), 32)
}
