package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdstream/internal/domain/model"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KITE_API_KEY", "key")
	t.Setenv("KITE_ACCESS_TOKEN", "token")

	auth, err := Load("kite", nil)
	require.NoError(t, err)
	assert.Equal(t, "key", auth.APIKey)
	assert.Equal(t, "token", auth.AccessToken)
	assert.NoError(t, Require("kite", auth, "api_key", "access_token"))
	assert.EqualError(t, Require("kite", auth, "client_id"), "kite: missing credentials KITE_CLIENT_ID")
}

func TestLoadExplicitWins(t *testing.T) {
	t.Setenv("SHOONYA_CLIENT_ID", "env")
	auth, err := Load("shoonya", &model.AuthData{ClientID: "explicit"})
	require.NoError(t, err)
	assert.Equal(t, "explicit", auth.ClientID)

	auth, err = Load("shoonya", &model.AuthData{})
	require.NoError(t, err)
	assert.Equal(t, "env", auth.ClientID)
}
