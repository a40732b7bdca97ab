package credential

import (
	"encoding/json"
	"fmt"

	"anthroproxy/internal/restkv"
)

// remoteKeyPrefix namespaces credential records within the shared Upstash
// database, since the thinking cache's persistent tier lives in the same
// store.
const remoteKeyPrefix = "anthroproxy:cred:"

// remoteIndexKey holds the set of credential keys ever written, so GetAll
// can enumerate them without a native key-scan command (Upstash's free
// REST tier does not expose KEYS/SCAN).
const remoteIndexKey = "anthroproxy:cred:index"

// Remote is a Store backed by an Upstash-REST-shaped key-value service.
type Remote struct {
	kv *restkv.Client
}

// NewRemote returns a Remote backend, or nil if kv is nil.
func NewRemote(kv *restkv.Client) *Remote {
	if kv == nil {
		return nil
	}
	return &Remote{kv: kv}
}

func (r *Remote) Get(key string) (*OAuthCredential, bool, error) {
	raw, ok, err := r.kv.Get(remoteKeyPrefix + key)
	if err != nil {
		return nil, false, nil // remote errors degrade to "not found"
	}
	if !ok {
		return nil, false, nil
	}
	var cred OAuthCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, false, nil
	}
	return &cred, true, nil
}

func (r *Remote) Set(key string, cred *OAuthCredential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("credential: marshal record: %w", err)
	}
	if err := r.kv.Set(remoteKeyPrefix+key, string(data)); err != nil {
		return err
	}
	return r.addToIndex(key)
}

func (r *Remote) Remove(key string) error {
	if err := r.kv.Del(remoteKeyPrefix + key); err != nil {
		return err
	}
	return r.removeFromIndex(key)
}

func (r *Remote) GetAll() (map[string]*OAuthCredential, error) {
	keys := r.readIndex()
	out := make(map[string]*OAuthCredential, len(keys))
	for _, k := range keys {
		if cred, ok, err := r.Get(k); err == nil && ok {
			out[k] = cred
		}
	}
	return out, nil
}

func (r *Remote) readIndex() []string {
	raw, ok, err := r.kv.Get(remoteIndexKey)
	if err != nil || !ok {
		return nil
	}
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil
	}
	return keys
}

func (r *Remote) addToIndex(key string) error {
	keys := r.readIndex()
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	keys = append(keys, key)
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return r.kv.Set(remoteIndexKey, string(data))
}

func (r *Remote) removeFromIndex(key string) error {
	keys := r.readIndex()
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return r.kv.Set(remoteIndexKey, string(data))
}
