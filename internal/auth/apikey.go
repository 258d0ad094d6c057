package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/alexedwards/argon2id"

	"github.com/noah-isme/esim-admin/internal/common"
)

// ErrUnknownAPIKey is returned when no configured hash matches a key.
var ErrUnknownAPIKey = errors.New("auth: unknown api key")

// APIKey is a named argon2id hash of an admin API key.
type APIKey struct {
	Name string
	Hash string
}

// ParseAPIKeys reads "name:hash" entries. Entries without a name are named
// key1, key2 and so on by position.
func ParseAPIKeys(entries []string) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(entries))
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		k := APIKey{Name: fmt.Sprintf("key%d", i+1), Hash: entry}
		if name, hash, ok := strings.Cut(entry, ":"); ok && !strings.HasPrefix(entry, "$") {
			if name = strings.TrimSpace(name); name != "" {
				k.Name = name
			}
			k.Hash = strings.TrimSpace(hash)
		}
		if !strings.HasPrefix(k.Hash, "$argon2id$") {
			return nil, fmt.Errorf("auth: api key %q is not an argon2id hash", k.Name)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// HashAPIKey derives the argon2id hash stored in ADMIN_API_KEY_HASHES.
func HashAPIKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("auth: api key is empty")
	}
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}

// keyRing matches presented keys against the configured hashes. Matches are
// remembered by digest so argon2id runs once per distinct key.
type keyRing struct {
	keys []APIKey

	mu    sync.RWMutex
	known map[string]string
}

func newKeyRing(keys []APIKey) *keyRing {
	return &keyRing{keys: keys, known: make(map[string]string)}
}

func (r *keyRing) match(key string) (string, error) {
	digest := common.Digest(key)
	r.mu.RLock()
	name, ok := r.known[digest]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}
	for _, k := range r.keys {
		ok, err := argon2id.ComparePasswordAndHash(key, k.Hash)
		if err != nil {
			return "", fmt.Errorf("auth: compare api key %s: %w", k.Name, err)
		}
		if ok {
			r.mu.Lock()
			r.known[digest] = k.Name
			r.mu.Unlock()
			return k.Name, nil
		}
	}
	return "", ErrUnknownAPIKey
}
