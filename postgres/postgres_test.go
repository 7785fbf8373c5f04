package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetwithoutsheet/swscore"
	"github.com/sheetwithoutsheet/swscore/config"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *PoolManager) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return mock, New(mock)
}

func TestExecute(t *testing.T) {
	mock, pm := newMock(t)
	q := "INSERT INTO sheets(name) VALUES($1)"
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs("budget").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tag, err := pm.Execute(context.Background(), q, "budget")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tag.RowsAffected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ShieldedFromCancellation(t *testing.T) {
	mock, pm := newMock(t)
	q := "DELETE FROM sheets WHERE id = $1"
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(7).WillReturnResult(pgxmock.NewResult("DELETE", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tag, err := pm.Execute(ctx, q, 7)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), tag.RowsAffected(), "the delete still ran")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_ErrorPropagates(t *testing.T) {
	mock, pm := newMock(t)
	boom := errors.New("relation does not exist")
	mock.ExpectExec("UPDATE").WillReturnError(boom)

	_, err := pm.Execute(context.Background(), "UPDATE nope SET a = 1")
	assert.ErrorIs(t, err, boom)
}

func TestExecuteMany(t *testing.T) {
	mock, pm := newMock(t)
	q := "INSERT INTO cells(sheet, value) VALUES($1, $2)"
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(1, "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(1, "b").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := pm.ExecuteMany(context.Background(), q, [][]any{{1, "a"}, {1, "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteMany_RollsBackOnError(t *testing.T) {
	mock, pm := newMock(t)
	q := "INSERT INTO cells(sheet, value) VALUES($1, $2)"
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(1, "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(1, "b").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := pm.ExecuteMany(context.Background(), q, [][]any{{1, "a"}, {1, "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument set 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteMany_NoArgSets(t *testing.T) {
	mock, pm := newMock(t)
	n, err := pm.ExecuteMany(context.Background(), "INSERT INTO t VALUES($1)", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch(t *testing.T) {
	mock, pm := newMock(t)
	q := "SELECT id, name FROM sheets ORDER BY id"
	mock.ExpectQuery(regexp.QuoteMeta(q)).WillReturnRows(
		pgxmock.NewRows([]string{"id", "name"}).AddRow(1, "budget").AddRow(2, "roadmap"))

	rows, err := pm.Fetch(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"id": 1, "name": "budget"}, rows[0])
	assert.Equal(t, Row{"id": 2, "name": "roadmap"}, rows[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_Empty(t *testing.T) {
	mock, pm := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnRows(pgxmock.NewRows([]string{"id"}))

	rows, err := pm.Fetch(context.Background(), "SELECT id FROM sheets")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestFetch_CancelledMidReadReleasesRows(t *testing.T) {
	mock, pm := newMock(t)
	q := "SELECT id FROM sheets"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, context.Canceled)).
		RowsWillBeClosed()
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1)).
		RowsWillBeClosed()

	rows, err := pm.Fetch(context.Background(), q)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rows)

	rows, err = pm.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetch_DeadlineThenRecovers(t *testing.T) {
	mock, pm := newMock(t)
	q := "SELECT id FROM sheets"
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(1)).
		WillDelayFor(time.Second)
	mock.ExpectQuery(regexp.QuoteMeta(q)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(2)).
		RowsWillBeClosed()

	start := time.Now()
	_, err := pm.FetchTimeout(context.Background(), 20*time.Millisecond, q)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	rows, err := pm.Fetch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []Row{{"id": 2}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchOne(t *testing.T) {
	mock, pm := newMock(t)
	q := "SELECT name FROM sheets WHERE id = $1"
	mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs(1).WillReturnRows(
		pgxmock.NewRows([]string{"name"}).AddRow("budget"))
	mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs(99).WillReturnRows(
		pgxmock.NewRows([]string{"name"}))

	row, err := pm.FetchOne(context.Background(), q, 1)
	require.NoError(t, err)
	assert.Equal(t, Row{"name": "budget"}, row)

	row, err = pm.FetchOne(context.Background(), q, 99)
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOperationsAfterClose(t *testing.T) {
	mock, pm := newMock(t)
	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, pm.Close(context.Background()))

	_, err := pm.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolNotOpen)
	_, err = pm.Fetch(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolNotOpen)
	assert.NoError(t, pm.Close(context.Background()), "second close is a no-op")
}

type stuckPool struct {
	Pool
	release chan struct{}
}

func (p stuckPool) Close() { <-p.release }

func TestClose_BoundedWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pm := New(stuckPool{release: release})
	pm.closeTimeout = 50 * time.Millisecond

	start := time.Now()
	err := pm.Close(context.Background())
	require.Error(t, err)
	var te swscore.ErrTimeout
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, swscore.TimeoutError, swscore.CodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfig_Validation(t *testing.T) {
	_, err := Create(context.Background(), Config{Host: "localhost"})
	require.Error(t, err)
	assert.Equal(t, swscore.ConfigurationError, swscore.CodeOf(err))
	assert.Contains(t, err.Error(), "user is required")
	assert.Contains(t, err.Error(), "database is required")
}

func TestConfig_PoolDefaults(t *testing.T) {
	cfg := Config{User: "u", Password: "p", Database: "d", MinConnections: 20, MaxConnections: 5}
	pc, err := cfg.poolConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5432), pc.ConnConfig.Port)
	assert.Equal(t, int32(5), pc.MaxConns)
	assert.Equal(t, int32(5), pc.MinConns)
}

func TestCreate_Unreachable(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 1, User: "u", Password: "p", Database: "d", ConnectTimeout: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Create(ctx, cfg)
	require.Error(t, err)
	assert.Equal(t, swscore.ConnectionError, swscore.CodeOf(err))
}

func TestCreateConnection_Unreachable(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 1, User: "u", Password: "p", Database: "d", ConnectTimeout: 200 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := CreateConnection(ctx, cfg)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, swscore.ConnectionError, swscore.CodeOf(err))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_USER", "sws")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "sheets")
	t.Setenv("POSTGRES_CONNECTION_MAX_SIZE", "20")

	cfg, err := ConfigFromEnv(config.NewLoader(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, err)
	assert.Equal(t, Config{Host: "db", Port: 6543, User: "sws", Password: "secret", Database: "sheets", MinConnections: 10, MaxConnections: 20}, cfg)
}
