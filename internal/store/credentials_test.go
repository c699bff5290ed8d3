package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/store"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		wantUser string
		wantPass string
		wantErr  bool
	}{
		{"hashed", "oneadmin:password", "oneadmin", "5baa61e4c9b93f3f0682250b6cf8331b7ee68fd8", false},
		{"plain", "oneadmin:plain:secret", "oneadmin", "secret", false},
		{"trailing newline", "serveradmin:password\n", "serveradmin", "5baa61e4c9b93f3f0682250b6cf8331b7ee68fd8", false},
		{"empty password is hashed", "oneadmin:", "oneadmin", "da39a3ee5e6b4b0d3255bfef95601890afd80709", false},
		{"colon in password", "oneadmin:a:b", "oneadmin", "", false},
		{"empty plain password", "oneadmin:plain:", "", "", true},
		{"missing colon", "oneadmin", "", "", true},
		{"missing user", ":password", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := store.ParseCredentials(tt.secret)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, creds.Username)
			if tt.wantPass != "" {
				assert.Equal(t, tt.wantPass, creds.Password)
			}
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	authFile := filepath.Join(dir, "one_auth")
	require.NoError(t, os.WriteFile(authFile, []byte("oneadmin:plain:fromfile\nignored:line\n"), 0o600))

	t.Run("explicit secret wins", func(t *testing.T) {
		creds, err := store.LoadCredentials("other:plain:x", authFile)
		require.NoError(t, err)
		assert.Equal(t, "other", creds.Username)
		assert.Equal(t, "x", creds.Password)
	})

	t.Run("first line of auth file", func(t *testing.T) {
		creds, err := store.LoadCredentials("", authFile)
		require.NoError(t, err)
		assert.Equal(t, "oneadmin", creds.Username)
		assert.Equal(t, "fromfile", creds.Password)
	})

	t.Run("missing auth file", func(t *testing.T) {
		_, err := store.LoadCredentials("", filepath.Join(dir, "missing"))
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("empty auth file", func(t *testing.T) {
		empty := filepath.Join(dir, "empty")
		require.NoError(t, os.WriteFile(empty, nil, 0o600))
		_, err := store.LoadCredentials("", empty)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := store.LoadCredentials("", "")
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})
}
