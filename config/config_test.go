package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultReductionBudget, cfg.ReductionBudget)
	assert.Equal(t, 1, cfg.NetpollThreads)
}

func TestNetpollThreadsClampedTo127(t *testing.T) {
	t.Setenv("NETPOLL_THREADS", "200")
	defer os.Unsetenv("NETPOLL_THREADS")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, MaxNetpollThreads, cfg.NetpollThreads)
}

func TestInvalidEnvValuesAreIgnored(t *testing.T) {
	t.Setenv("REDUCTIONS", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultReductionBudget, cfg.ReductionBudget)
}

func TestZeroEnvValueIgnored(t *testing.T) {
	t.Setenv("BACKUP_THREADS", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Greater(t, cfg.SecondaryThreads, 0)
}

func TestPositiveEnvOverridesDefault(t *testing.T) {
	t.Setenv("PROCESS_THREADS", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PrimaryThreads)
}
