package backends

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/punlock/internal/config"
	"github.com/systmms/punlock/internal/credentials"
	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/tests/testutil"
)

func TestNew(t *testing.T) {
	t.Parallel()

	complete := &credentials.Credentials{ClientID: "user.1", ClientSecret: "s", DeviceID: "d"}

	t.Run("bitwarden-cli", func(t *testing.T) {
		b, err := New(context.Background(), &config.Definition{Backend: "bitwarden-cli"},
			Deps{Executor: testutil.NewMockCommandExecutor()})
		require.NoError(t, err)
		assert.IsType(t, &BitwardenCLI{}, b)
	})

	t.Run("bitwarden-api", func(t *testing.T) {
		b, err := New(context.Background(), &config.Definition{Backend: "bitwarden-api", Domain: "vault.bitwarden.eu"},
			Deps{Credentials: complete})
		require.NoError(t, err)
		api, ok := b.(*BitwardenAPI)
		require.True(t, ok)
		assert.Equal(t, "https://vault.bitwarden.eu/x", api.endpoint("/x"))
	})

	t.Run("bitwarden-api without credentials", func(t *testing.T) {
		_, err := New(context.Background(), &config.Definition{Backend: "bitwarden-api"},
			Deps{Credentials: &credentials.Credentials{ClientID: "only-id"}})
		var userErr dserrors.UserError
		require.ErrorAs(t, err, &userErr)
		assert.Contains(t, userErr.Message, "client id and secret")
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := New(context.Background(), &config.Definition{Backend: "lastpass"}, Deps{})
		var cfgErr dserrors.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "backend", cfgErr.Field)
		assert.Contains(t, cfgErr.Suggestion, "bitwarden-cli")
	})

	t.Run("azure without vault url", func(t *testing.T) {
		_, err := New(context.Background(), &config.Definition{Backend: "azure"}, Deps{})
		var cfgErr dserrors.ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  config.Definition
		want string
	}{
		{"default domain", config.Definition{Backend: "bitwarden-cli", Domain: config.DefaultDomain}, ""},
		{"empty domain", config.Definition{Backend: "bitwarden-cli"}, ""},
		{"self hosted", config.Definition{Backend: "bitwarden-cli", Domain: "bw.example.com"}, "bw.example.com"},
		{"api self hosted", config.Definition{Backend: "bitwarden-api", Domain: "bw.example.com"}, "bw.example.com"},
		{"cloud backend ignores domain", config.Definition{Backend: "aws", Domain: "bw.example.com"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Endpoint(&tt.def))
		})
	}
}

func TestNeedsCredentials(t *testing.T) {
	t.Parallel()

	assert.True(t, NeedsCredentials("bitwarden-api"))
	for _, b := range []string{"bitwarden-cli", "aws", "azure", "gcp"} {
		assert.False(t, NeedsCredentials(b), b)
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://vault.bitwarden.com", baseURL("vault.bitwarden.com"))
	assert.Equal(t, "https://vault.bitwarden.com", baseURL("vault.bitwarden.com/"))
	assert.Equal(t, "http://localhost:8080", baseURL("http://localhost:8080/"))
	assert.Equal(t, "https://bw.example.com", baseURL("https://bw.example.com"))
}

func TestEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"object", `{"a":1}`, `{"name":"n","secret":{"a":1}}`},
		{"array", `[1,2]`, `{"name":"n","secret":[1,2]}`},
		{"number stays raw", `42`, `{"name":"n","secret":"42"}`},
		{"quoted string stays raw", `"hi"`, `{"name":"n","secret":"\"hi\""}`},
		{"plain text", `hunter2`, `{"name":"n","secret":"hunter2"}`},
		{"empty", ``, `{"name":"n","secret":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := envelope(map[string]any{"name": "n"}, tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestSplitVersion(t *testing.T) {
	t.Parallel()

	name, version := splitVersion("db")
	assert.Equal(t, "db", name)
	assert.Empty(t, version)

	name, version = splitVersion("db/7")
	assert.Equal(t, "db", name)
	assert.Equal(t, "7", version)
}
