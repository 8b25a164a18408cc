package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

// SQLiteDSN returns a DSN for a private in-memory sqlite database that
// lives as long as its connection
func SQLiteDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.New().String())
}
