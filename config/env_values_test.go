package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongobridge/internal/constants"
)

func TestTransactionOptions(t *testing.T) {
	env := Environment{
		TransactionReadConcern:    "snapshot",
		TransactionWriteConcern:   "2",
		TransactionTimeoutSeconds: 5,
	}

	opts, err := env.TransactionOptions()
	require.NoError(t, err)
	require.NotNil(t, opts.ReadConcern)
	assert.Equal(t, "snapshot", opts.ReadConcern.Level)
	require.NotNil(t, opts.WriteConcern)
	assert.Equal(t, 2, opts.WriteConcern.W)
	require.NotNil(t, opts.MaxCommitTime)
	assert.Equal(t, 5*time.Second, *opts.MaxCommitTime)
}

func TestTransactionOptionsDefaults(t *testing.T) {
	opts, err := Environment{}.TransactionOptions()
	require.NoError(t, err)
	assert.Nil(t, opts.ReadConcern)
	assert.Nil(t, opts.WriteConcern)
	assert.Nil(t, opts.MaxCommitTime)
}

func TestTransactionOptionsRejectsUnknownConcerns(t *testing.T) {
	_, err := Environment{TransactionReadConcern: "linearizable"}.TransactionOptions()
	assert.Error(t, err)

	_, err = Environment{TransactionWriteConcern: "most"}.TransactionOptions()
	assert.Error(t, err)
}

func TestLoadEnvReadsSessionSettings(t *testing.T) {
	t.Setenv("IS_DOCKER", "true")
	t.Setenv("ENVIRONMENT", constants.EnvironmentDevelopment)
	t.Setenv("TRANSACTION_READ_CONCERN", "")
	t.Setenv("MONGOBRIDGE_MONGODB_URI", "mongodb://db:27017/?replicaSet=rs0")
	t.Setenv("SESSION_SYNCHRONIZATION", "ALWAYS")
	t.Setenv("STRICT_FIELD_MAPPING", "false")

	require.NoError(t, LoadEnv())
	assert.Equal(t, "ALWAYS", Env.SessionSynchronization.String())
	assert.False(t, Env.StrictFieldMapping)
	assert.Equal(t, "majority", Env.TransactionReadConcern)
}

func TestLoadEnvRejectsBadURI(t *testing.T) {
	t.Setenv("IS_DOCKER", "true")
	t.Setenv("MONGOBRIDGE_MONGODB_URI", "postgres://localhost")

	assert.Error(t, LoadEnv())
}
