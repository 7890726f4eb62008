package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custody.backend/internal/infrastructure/repositories/sqlitetest"
)

func OpenTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	return sqlitetest.Open(t)
}

func mustExec(t testing.TB, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}
