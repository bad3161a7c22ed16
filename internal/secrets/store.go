package secrets

import (
	"encoding/json"
	"os"
	"sync"

	"codeberg.org/mkern/rackfanctl/internal/errors"
)

const (
	// serviceName scopes every record and binds ciphertexts to this
	// application as AEAD associated data.
	serviceName = "rackfanctl"

	secretsFilePerm = 0o600
)

type storeFile struct {
	Salt []byte `json:"salt"`
	Data []byte `json:"data"`
}

// FileStore implements Store with AES-256-GCM encrypted file
// persistence. The whole record map is one sealed blob, so the file
// leaks neither server names nor usernames at rest.
type FileStore struct {
	mu      sync.Mutex
	path    string
	key     []byte
	salt    []byte
	records map[string]string
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens or creates an encrypted secret store at the given
// path. A missing file is created with a fresh salt; an existing file
// is decrypted with the provided passphrase.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	errFactory := errors.New()

	if path == "" {
		return nil, errFactory.WithData(errors.ErrMissingConfig, "secrets file path")
	}
	if passphrase == "" {
		return nil, errFactory.WithMessage(ErrMissingPassphrase,
			"a passphrase is required to open the secret store")
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			salt, err := generateSalt()
			if err != nil {
				return nil, errFactory.Wrap(ErrStorageAccess, err)
			}
			s.salt = salt
			s.key = deriveKey([]byte(passphrase), salt)
			return s, s.save()
		}
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	var sf storeFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	s.salt = sf.Salt
	s.key = deriveKey([]byte(passphrase), sf.Salt)

	plaintext, err := decrypt(s.key, sf.Data, []byte(serviceName))
	if err != nil {
		return nil, errFactory.WithMessage(ErrInvalidKey,
			"failed to decrypt secret store (wrong passphrase?)")
	}

	if err := json.Unmarshal(plaintext, &s.records); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return s, nil
}

func recordKey(server, username string) string {
	return serviceName + "/" + username + "@" + server
}

// Get returns the secret for a server and username, or ErrNotFound.
func (s *FileStore) Get(server, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.records[recordKey(server, username)]
	if !ok {
		return "", errors.New().WithData(ErrNotFound, recordKey(server, username))
	}

	return secret, nil
}

// Set stores or replaces the secret for a server and username.
func (s *FileStore) Set(server, username, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey(server, username)] = secret

	return s.save()
}

// Delete removes the secret for a server and username. Returns
// ErrNotFound if no record exists.
func (s *FileStore) Delete(server, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(server, username)
	if _, ok := s.records[key]; !ok {
		return errors.New().WithData(ErrNotFound, key)
	}

	delete(s.records, key)

	return s.save()
}

// save encrypts and writes the record map to disk. The write is
// atomic: a temp file is renamed over the store so a crash never
// leaves a half-written file.
func (s *FileStore) save() error {
	errFactory := errors.New()

	plaintext, err := json.Marshal(s.records)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	encrypted, err := encrypt(s.key, plaintext, []byte(serviceName))
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	data, err := json.Marshal(storeFile{Salt: s.salt, Data: encrypted})
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, secretsFilePerm); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}
