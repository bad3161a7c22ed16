package secrets_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mkern/rackfanctl/internal/errors"
	"codeberg.org/mkern/rackfanctl/internal/secrets"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	store, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)

	require.NoError(t, store.Set("rack1-node3", "root", "calvin"))
	require.NoError(t, store.Set("rack1-node1", "admin", "swordfish"))

	secret, err := store.Get("rack1-node3", "root")
	require.NoError(t, err)
	assert.Equal(t, "calvin", secret)

	// Reopen with the same passphrase and read back.
	reopened, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)

	secret, err = reopened.Get("rack1-node1", "admin")
	require.NoError(t, err)
	assert.Equal(t, "swordfish", secret)
}

func TestFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	store, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Set("rack1-node3", "root", "calvin"))

	_, err = secrets.NewFileStore(path, "not-the-passphrase")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, secrets.ErrInvalidKey))
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := secrets.NewFileStore(filepath.Join(t.TempDir(), "secrets.json"), "passphrase")
	require.NoError(t, err)

	_, err = store.Get("rack1-node3", "root")
	assert.True(t, errors.HasCode(err, secrets.ErrNotFound))

	err = store.Delete("rack1-node3", "root")
	assert.True(t, errors.HasCode(err, secrets.ErrNotFound))
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	store, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Set("rack1-node3", "root", "calvin"))
	require.NoError(t, store.Delete("rack1-node3", "root"))

	_, err = store.Get("rack1-node3", "root")
	assert.True(t, errors.HasCode(err, secrets.ErrNotFound))

	// Deletion survives a reopen.
	reopened, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)

	_, err = reopened.Get("rack1-node3", "root")
	assert.True(t, errors.HasCode(err, secrets.ErrNotFound))
}

func TestFileStoreRequiresPassphrase(t *testing.T) {
	_, err := secrets.NewFileStore(filepath.Join(t.TempDir(), "secrets.json"), "")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, secrets.ErrMissingPassphrase))
}

func TestFileStoreKeysPerServerAndUser(t *testing.T) {
	store, err := secrets.NewFileStore(filepath.Join(t.TempDir(), "secrets.json"), "passphrase")
	require.NoError(t, err)

	require.NoError(t, store.Set("rack1-node3", "root", "calvin"))
	require.NoError(t, store.Set("rack1-node4", "root", "hobbes"))

	secret, err := store.Get("rack1-node3", "root")
	require.NoError(t, err)
	assert.Equal(t, "calvin", secret)

	secret, err = store.Get("rack1-node4", "root")
	require.NoError(t, err)
	assert.Equal(t, "hobbes", secret)
}

func TestFileStoreFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	store, err := secrets.NewFileStore(path, "passphrase")
	require.NoError(t, err)
	require.NoError(t, store.Set("rack1-node3", "root", "calvin"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "calvin", "Plaintext never reaches disk")
	assert.NotContains(t, string(data), "rack1-node3", "Record keys are sealed with the payload")
}
