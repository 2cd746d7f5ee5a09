// Package configcache implements the config cache (C2): a TTL-cached
// key/value store fronting the persistence adapter's config_entries table.
// Reads are served from an in-memory map and only fall through to the store
// on a miss or expiry; writes go through to the store first and then update
// the cache entry directly, so a writer never has to wait for its own write
// to become visible.
package configcache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/tacops/pkg/vault"
)

// Key enumerates the fixed set of config entries the system recognizes.
// Values are arbitrary JSON; callers that want a typed value use the
// GetBool/GetString helpers below.
type Key string

const (
	KeySetupCompleted Key = "setup_completed"
	KeyJWTSecret      Key = "jwt_secret"
	KeyEncryptionKey  Key = "encryption_key"
	KeyCORSOrigin     Key = "cors_origin"
	KeyOrgName        Key = "org_name"
	KeyRetentionDays  Key = "retention_days"
	KeyFeatureToggles Key = "feature_toggles"
)

// TTL is how long a cached entry is trusted before the next Get re-reads it
// from the store.
const TTL = 60 * time.Second

// Store is the persistence-adapter slice the cache writes through to. A
// small interface rather than a concrete *store.Store so this package
// doesn't depend on the persistence adapter's package.
type Store interface {
	GetConfigEntry(ctx context.Context, key string) (json.RawMessage, bool, error)
	SetConfigEntry(ctx context.Context, key string, value json.RawMessage) error
}

type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// Cache is the process-wide config cache. The zero value is not usable;
// construct with New.
type Cache struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[Key]entry

	// fallbackCORSOrigin is used by CORSOrigin when no cors_origin config
	// entry has been written yet (pre-setup, or CORS_ORIGIN env override).
	fallbackCORSOrigin string
}

// New creates a Cache backed by store. fallbackCORSOrigin is returned by
// CORSOrigin before any cors_origin entry exists.
func New(store Store, logger *slog.Logger, fallbackCORSOrigin string) *Cache {
	return &Cache{
		store:              store,
		logger:             logger,
		entries:            make(map[Key]entry),
		fallbackCORSOrigin: fallbackCORSOrigin,
	}
}

// Get returns the raw JSON value for key and whether it was found. A cache
// hit within TTL never touches the store; a miss or expired entry triggers
// a synchronous read-through.
func (c *Cache) Get(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	if v, ok := c.cached(key); ok {
		return v, true, nil
	}

	value, found, err := c.store.GetConfigEntry(ctx, string(key))
	if err != nil {
		return nil, false, fmt.Errorf("reading config entry %q: %w", key, err)
	}

	c.mu.Lock()
	if found {
		c.entries[key] = entry{value: value, expiresAt: time.Now().Add(TTL)}
	} else {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	return value, found, nil
}

// Set writes value through to the store and updates the cache entry,
// skipping the next read-through for TTL.
func (c *Cache) Set(ctx context.Context, key Key, value json.RawMessage) error {
	if err := c.store.SetConfigEntry(ctx, string(key), value); err != nil {
		return fmt.Errorf("writing config entry %q: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(TTL)}
	c.mu.Unlock()

	return nil
}

// Invalidate drops key from the cache, forcing the next Get to read through.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) cached(key Key) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// GetString returns key's value unmarshaled as a string, or "" if absent.
func (c *Cache) GetString(ctx context.Context, key Key) (string, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decoding config entry %q: %w", key, err)
	}
	return s, nil
}

// GetBool returns key's value unmarshaled as a bool, or false if absent.
func (c *Cache) GetBool(ctx context.Context, key Key) (bool, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("decoding config entry %q: %w", key, err)
	}
	return b, nil
}

// GetInt returns key's value unmarshaled as an int, or 0 if absent.
func (c *Cache) GetInt(ctx context.Context, key Key) (int, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decoding config entry %q: %w", key, err)
	}
	return n, nil
}

// SetString JSON-encodes s and writes it through as key's value.
func (c *Cache) SetString(ctx context.Context, key Key, s string) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding config entry %q: %w", key, err)
	}
	return c.Set(ctx, key, raw)
}

// SetBool JSON-encodes b and writes it through as key's value.
func (c *Cache) SetBool(ctx context.Context, key Key, b bool) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding config entry %q: %w", key, err)
	}
	return c.Set(ctx, key, raw)
}

// SetInt JSON-encodes n and writes it through as key's value.
func (c *Cache) SetInt(ctx context.Context, key Key, n int) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding config entry %q: %w", key, err)
	}
	return c.Set(ctx, key, raw)
}

// IsSetupComplete implements internal/httpserver.SetupChecker.
func (c *Cache) IsSetupComplete(ctx context.Context) bool {
	done, err := c.GetBool(ctx, KeySetupCompleted)
	if err != nil {
		c.logger.Error("checking setup completion", "error", err)
		return false
	}
	return done
}

// CompleteSetup marks setup_completed true. Callers are expected to have
// already enforced the one-shot 409 check against the current value.
func (c *Cache) CompleteSetup(ctx context.Context) error {
	return c.SetBool(ctx, KeySetupCompleted, true)
}

// CORSOrigin implements internal/httpserver.CORSOriginFunc. It cannot take a
// context (the middleware calls it per-request with no context threaded
// through), so it reads with a background context; the cache hit path taken
// on every call after the first makes this effectively free.
func (c *Cache) CORSOrigin() string {
	origin, err := c.GetString(context.Background(), KeyCORSOrigin)
	if err != nil {
		c.logger.Error("reading cors_origin config entry", "error", err)
		return c.fallbackCORSOrigin
	}
	if origin == "" {
		return c.fallbackCORSOrigin
	}
	return origin
}

// EncryptionKey returns the 32-byte symmetric key used by pkg/vault, reading
// it from config if present. If absent, it generates 32 random bytes,
// persists them base64-encoded, and returns the raw key, per §4.1's
// auto-generate-on-first-use rule.
func (c *Cache) EncryptionKey(ctx context.Context) ([]byte, error) {
	encoded, err := c.GetString(ctx, KeyEncryptionKey)
	if err != nil {
		return nil, err
	}
	if encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding encryption_key config entry: %w", err)
		}
		return key, nil
	}

	key, err := vault.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := c.SetString(ctx, KeyEncryptionKey, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// JWTSecret returns the JWT signing secret from config. Unlike
// EncryptionKey, it is never auto-generated: per §4.1, a missing or
// under-length secret is a fatal configuration error at first token
// operation, surfaced by the caller (pkg/vault.New validates length).
func (c *Cache) JWTSecret(ctx context.Context) ([]byte, error) {
	encoded, err := c.GetString(ctx, KeyJWTSecret)
	if err != nil {
		return nil, err
	}
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt_secret config entry: %w", err)
	}
	return key, nil
}
