package vault_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/punlock/internal/resolve"
	"github.com/systmms/punlock/pkg/vault"
	"github.com/systmms/punlock/tests/fakes"
)

const sshItem = `{
	"id": "ssh",
	"login": {"username": "git", "password": "hunter2"},
	"fields": [{"name": "token", "value": "tok-123"}],
	"notes": null
}`

func authenticated(t *testing.T, backend *fakes.FakeBackend, opts ...vault.Option) *vault.Session {
	t.Helper()
	session, err := newClient(backend, fakes.NewFakePrompter("pw"), opts...).Authenticate(context.Background(), "")
	require.NoError(t, err)
	return session
}

func TestSessionFetch(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli").
		WithItem("ssh", sshItem).
		WithItem("broken", `{"login": `).
		WithItemError("down", &vault.TransportError{Backend: "bitwarden-cli", Op: "get item", Err: errors.New("exec: \"bw\": executable file not found")})
	session := authenticated(t, backend)

	tests := []struct {
		name    string
		entry   vault.Entry
		want    string
		wantErr interface{}
	}{
		{
			name:  "dotted field",
			entry: vault.Entry{ID: "ssh", Query: "login.password"},
			want:  "hunter2",
		},
		{
			name:  "filter expression",
			entry: vault.Entry{ID: "ssh", Query: "fields[?name=='token'].value | [0]"},
			want:  "tok-123",
		},
		{
			name:    "unknown item",
			entry:   vault.Entry{ID: "missing", Query: "login.password"},
			wantErr: new(*vault.FetchError),
		},
		{
			name:    "malformed body",
			entry:   vault.Entry{ID: "broken", Query: "login.password"},
			wantErr: new(*vault.ParseError),
		},
		{
			name:    "null field",
			entry:   vault.Entry{ID: "ssh", Query: "notes"},
			wantErr: new(*vault.ExtractionError),
		},
		{
			name:    "object result",
			entry:   vault.Entry{ID: "ssh", Query: "login"},
			wantErr: new(*vault.ExtractionError),
		},
		{
			name:    "bad expression",
			entry:   vault.Entry{ID: "ssh", Query: "login.[["},
			wantErr: new(*vault.QueryError),
		},
		{
			name:    "transport failure",
			entry:   vault.Entry{ID: "down", Query: "login.password"},
			wantErr: new(*vault.TransportError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := session.Fetch(context.Background(), tt.entry)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorAs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionFetch_Concurrent(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli")
	for i := 0; i < 20; i++ {
		backend.WithItem(fmt.Sprintf("item-%d", i), fmt.Sprintf(`{"v":"secret-%d"}`, i))
	}
	session := authenticated(t, backend)

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := session.Fetch(context.Background(), vault.Entry{ID: fmt.Sprintf("item-%d", i), Query: "v"})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, fmt.Sprintf("secret-%d", i), v)
	}
}

func TestSessionFetch_PerCallTimeout(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-api").
		WithItem("slow", `{"v":"x"}`).
		WithDelay(5 * time.Second)
	session := authenticated(t, backend, vault.WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := session.Fetch(context.Background(), vault.Entry{ID: "slow", Query: "v"})

	require.Error(t, err)
	assert.True(t, vault.IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSessionExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	backend := fakes.NewFakeBackend("bitwarden-api").
		WithLogins(fakes.AcceptUntil("short-lived", now.Add(time.Hour))).
		WithItem("a", `{"v":"x"}`)

	session, err := newClient(backend, fakes.NewFakePrompter("pw"), vault.WithClock(clock, nil)).
		Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour-5*time.Second), session.ExpiresAt())
	assert.Equal(t, "short-lived", session.Token())

	_, err = session.Fetch(context.Background(), vault.Entry{ID: "a", Query: "v"})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = session.Fetch(context.Background(), vault.Entry{ID: "a", Query: "v"})
	assert.ErrorIs(t, err, vault.ErrSessionExpired)
	assert.Empty(t, session.Token())
	assert.Len(t, backend.ItemCalls, 1)
}

func TestSessionLogout(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli").
		WithLogins(fakes.Accept("tok")).
		WithItem("a", `{"v":"x"}`)
	backend.RevokeErr = errors.New("You are not logged in.")
	session := authenticated(t, backend)

	assert.Equal(t, "tok", session.Token())
	session.Logout(context.Background())
	session.Logout(context.Background())
	assert.Empty(t, session.Token())

	assert.Equal(t, []string{"tok"}, backend.Revoked)

	_, err := session.Fetch(context.Background(), vault.Entry{ID: "a", Query: "v"})
	assert.ErrorIs(t, err, vault.ErrSessionExpired)
}

func TestSessionWithoutResolver(t *testing.T) {
	t.Parallel()

	backend := fakes.NewFakeBackend("bitwarden-cli").WithItem("a", `{"v":"x"}`)
	session, err := vault.NewClient(backend, nil, "me", vault.WithPrompter(fakes.NewFakePrompter("pw"))).
		Authenticate(context.Background(), "")
	require.NoError(t, err)

	_, err = session.Fetch(context.Background(), vault.Entry{ID: "a", Query: "v"})
	assert.ErrorContains(t, err, "no resolver")
}

var _ vault.Resolver = resolve.New()
