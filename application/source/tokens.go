package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"udl/pkg/errors"
)

// TokenStore persists per-plugin opaque sync cursors in a
// sync-tokens.json beside the cache directories. The core never
// interprets a token; sync-strategy plugins write and read their own.
type TokenStore struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	tokens map[string]string
}

// NewTokenStore loads (or initializes) the token file under dir.
func NewTokenStore(dir string, logger *zap.Logger) *TokenStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := &TokenStore{
		path:   filepath.Join(dir, "sync-tokens.json"),
		logger: logger.With(zap.String("component", "sync-tokens")),
		tokens: make(map[string]string),
	}

	data, err := os.ReadFile(ts.path)
	if err == nil {
		if err := json.Unmarshal(data, &ts.tokens); err != nil {
			ts.logger.Warn("sync token file unparseable, starting fresh", zap.Error(err))
			ts.tokens = make(map[string]string)
		}
	}
	return ts
}

// Get returns the plugin's cursor, or "" when none is stored.
func (t *TokenStore) Get(plugin string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens[plugin]
}

// Set stores the plugin's cursor and flushes the file.
func (t *TokenStore) Set(plugin, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if token == "" {
		delete(t.tokens, plugin)
	} else {
		t.tokens[plugin] = token
	}

	data, err := json.MarshalIndent(t.tokens, "", "  ")
	if err != nil {
		return errors.NewTransientIO("cannot serialize sync tokens", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return errors.NewTransientIO("cannot create sync token directory", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return errors.NewTransientIO("cannot write sync token file", err)
	}
	return nil
}
