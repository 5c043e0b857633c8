package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN("fit", "pw", "db", "3306", "fitting")
	assert.True(t, strings.HasPrefix(dsn, "fit:pw@tcp(db:3306)/fitting?"))
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	noPass := DSN("fit", "", "db", "3306", "fitting")
	assert.True(t, strings.HasPrefix(noPass, "fit@tcp(db:3306)/fitting?"))
}

func TestStatements(t *testing.T) {
	stmts := Statements()
	require.Len(t, stmts, 8)
	for _, s := range stmts {
		assert.False(t, strings.HasSuffix(s, ";"))
		assert.NotContains(t, s, "--")
	}
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS rooms"))
	assert.True(t, strings.HasPrefix(stmts[7], "INSERT IGNORE INTO products"))
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.MatchExpectationsInOrder(true)
	for range Statements() {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnError(errors.New("boom"))

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema statement 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}
