package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "discord token is required")

	cfg.Discord.Token = "token"
	require.NoError(t, cfg.Validate())

	cfg.DatabaseType = "mysql"
	assert.Error(t, cfg.Validate())
	cfg.DatabaseType = dbTypePostgres
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidateRouter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "token"

	cfg.Router.Prefixes = nil
	assert.Error(t, cfg.Validate(), "at least one prefix is required")
	cfg.Router.Prefixes = []string{"!", "?"}
	require.NoError(t, cfg.Validate())

	cfg.Router.PageSize = 0
	assert.Error(t, cfg.Validate())
	cfg.Router.PageSize = DefaultPaginationPageSize

	cfg.Router.RepDailyAllowance = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateAPI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.API.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.API.Listen = ""
	assert.Error(t, cfg.Validate())
	cfg.API.Listen = DefaultAPIListen

	cfg.API.ListenNetwork = "udp"
	assert.Error(t, cfg.Validate())
	cfg.API.ListenNetwork = "unix"
	require.NoError(t, cfg.Validate())

	cfg.API.SessionMaxAge = 0
	assert.Error(t, cfg.Validate())
}
