package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalFile is a Store backed by a single pretty-printed JSON file,
// `{key: credential}`, read-modify-write on every write. There is no
// cross-process lock: the login flow is the sole writer and is
// user-initiated, matching spec §4.A.
type LocalFile struct {
	path string
	mu   sync.Mutex
}

// NewLocalFile returns a LocalFile backend rooted at path.
func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

// DefaultLocalFilePath is `.auth_data.json` in the working directory.
func DefaultLocalFilePath() string {
	return filepath.Join(".", ".auth_data.json")
}

type storedRecord struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken"`
	Expires      int64  `json:"expires"`
	Encrypted    bool   `json:"encrypted,omitempty"`
}

func (f *LocalFile) readAll() (map[string]storedRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]storedRecord{}, nil
		}
		return map[string]storedRecord{}, nil // read errors degrade to "not found"
	}
	if len(data) == 0 {
		return map[string]storedRecord{}, nil
	}
	var m map[string]storedRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]storedRecord{}, nil
	}
	return m, nil
}

func (f *LocalFile) writeAll(m map[string]storedRecord) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: marshal store: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("credential: write store: %w", err)
	}
	return nil
}

func toStored(key []byte, hasKey bool, c *OAuthCredential) (storedRecord, error) {
	if !hasKey {
		return storedRecord{
			Type:         c.Type,
			RefreshToken: c.RefreshToken,
			AccessToken:  c.AccessToken,
			Expires:      c.Expires,
		}, nil
	}
	encRefresh, err := encryptField(key, c.RefreshToken)
	if err != nil {
		return storedRecord{}, err
	}
	encAccess, err := encryptField(key, c.AccessToken)
	if err != nil {
		return storedRecord{}, err
	}
	return storedRecord{
		Type:         c.Type,
		RefreshToken: encRefresh,
		AccessToken:  encAccess,
		Expires:      c.Expires,
		Encrypted:    true,
	}, nil
}

func fromStored(key []byte, hasKey bool, r storedRecord) (*OAuthCredential, error) {
	if !r.Encrypted {
		return &OAuthCredential{
			Type:         r.Type,
			RefreshToken: r.RefreshToken,
			AccessToken:  r.AccessToken,
			Expires:      r.Expires,
		}, nil
	}
	if !hasKey {
		return nil, fmt.Errorf("credential: record is encrypted but CREDENTIAL_ENCRYPTION_KEY is not set")
	}
	refresh, err := decryptField(key, r.RefreshToken)
	if err != nil {
		return nil, err
	}
	access, err := decryptField(key, r.AccessToken)
	if err != nil {
		return nil, err
	}
	return &OAuthCredential{
		Type:         r.Type,
		RefreshToken: refresh,
		AccessToken:  access,
		Expires:      r.Expires,
	}, nil
}

// Get implements Store.
func (f *LocalFile) Get(key string) (*OAuthCredential, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, _ := f.readAll()
	rec, ok := m[key]
	if !ok {
		return nil, false, nil
	}
	encKey, hasKey := encryptionKey()
	cred, err := fromStored(encKey, hasKey, rec)
	if err != nil {
		return nil, false, nil
	}
	return cred, true, nil
}

// Set implements Store.
func (f *LocalFile) Set(key string, cred *OAuthCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, _ := f.readAll()
	encKey, hasKey := encryptionKey()
	rec, err := toStored(encKey, hasKey, cred)
	if err != nil {
		return err
	}
	m[key] = rec
	return f.writeAll(m)
}

// Remove implements Store.
func (f *LocalFile) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, _ := f.readAll()
	delete(m, key)
	return f.writeAll(m)
}

// GetAll implements Store.
func (f *LocalFile) GetAll() (map[string]*OAuthCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, _ := f.readAll()
	encKey, hasKey := encryptionKey()
	out := make(map[string]*OAuthCredential, len(m))
	for k, rec := range m {
		cred, err := fromStored(encKey, hasKey, rec)
		if err != nil {
			continue
		}
		out[k] = cred
	}
	return out, nil
}
