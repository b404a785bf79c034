package config

import (
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"testing"
)

// chdirTemp keeps godotenv from picking up a stray .env in the package dir.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// unsetenv clears keys for the test; cleanenv treats a set-but-empty variable as a value.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestNewDefaults(t *testing.T) {
	chdirTemp(t)
	unsetenv(t, "STORE_DRIVER", "LOG_LEVEL", "LEDGER_PROGRAM_ID", "TARANTOOL_HOST", "TARANTOOL_PORT")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost", cfg.Tarantool.Host)
	assert.Equal(t, "3301", cfg.Tarantool.Port)

	program, err := cfg.Program()
	require.NoError(t, err)
	assert.Equal(t, address.DefaultProgram, program)
}

func TestNewReadsDotEnv(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile(".env", []byte("STORE_DRIVER=sqlite\nDATABASE_DSN=ledger.db\nCHANNEL_ID=town-square\n"), 0o600))
	// godotenv never overrides variables that are already set
	unsetenv(t, "STORE_DRIVER", "DATABASE_DSN", "CHANNEL_ID", "LEDGER_PROGRAM_ID")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "ledger.db", cfg.DatabaseDSN)
	assert.Equal(t, "town-square", cfg.ChannelID)
}

func TestValidate(t *testing.T) {
	cfg := &Config{StoreDriver: "redis"}
	assert.ErrorIs(t, cfg.Validate(), ErrUnknownStore)

	cfg = &Config{StoreDriver: StorePostgres}
	assert.Error(t, cfg.Validate())

	cfg = &Config{StoreDriver: StoreMemory, ProgramID: "not-an-address"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{StoreDriver: StoreMemory, ProgramID: address.DefaultProgram.String()}
	assert.NoError(t, cfg.Validate())
}
