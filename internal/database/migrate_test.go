package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrationsFS, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

// Webhook completions without a merchant reference look rows up by the
// gateway's payment id.
func TestPendingPaymentsIndexesExternalID(t *testing.T) {
	b, err := fs.ReadFile(migrationsFS, "migrations/000003_create_pending_payments.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "KEY idx_pending_payments_external (external_payment_id)")
}
