package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"udl/domain/node"
	"udl/pkg/errors"
)

const snapshotFile = "nodes.json"

// FileStorage is the default cache backend: one
// <root>/<ownerDir>/nodes.json per owner, written atomically.
type FileStorage struct {
	root   string
	logger *zap.Logger
}

// NewFileStorage creates a file-backed cache rooted at dir.
func NewFileStorage(dir string, logger *zap.Logger) *FileStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStorage{
		root:   dir,
		logger: logger.With(zap.String("component", "cache")),
	}
}

// Load reads the owner's snapshot. Absent, unparseable or
// version-mismatched files come back as empty: the cache is advisory.
func (f *FileStorage) Load(_ context.Context, owner string) (*Envelope, error) {
	path := filepath.Join(f.root, ownerDir(owner), snapshotFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		f.logger.Warn("cache read failed, starting fresh",
			zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.logger.Warn("cache snapshot unparseable, starting fresh",
			zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}
	if env.Meta.Version != Version {
		f.logger.Warn("cache version mismatch, discarding snapshot",
			zap.String("owner", owner),
			zap.Int("found", env.Meta.Version),
			zap.Int("want", Version),
		)
		return nil, nil
	}
	return &env, nil
}

// Save serializes the envelope atomically: write to nodes.json.tmp,
// fsync, rename. Cyclic payloads are rescued by collapsing cycles to the
// sentinel before marshaling.
func (f *FileStorage) Save(_ context.Context, owner string, env *Envelope) error {
	dir := filepath.Join(f.root, ownerDir(owner))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewTransientIO("cannot create cache directory", err)
	}

	stamped := *env
	stamped.Meta.Version = Version
	if stamped.Meta.CreatedAt.IsZero() {
		stamped.Meta.CreatedAt = time.Now()
	}
	stamped.Meta.UpdatedAt = time.Now()
	stamped.Nodes = sanitizeNodes(env.Nodes)

	data, err := json.Marshal(&stamped)
	if err != nil {
		return errors.NewTransientIO("cannot serialize cache envelope", err)
	}

	path := filepath.Join(dir, snapshotFile)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.NewTransientIO("cannot open cache temp file", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return errors.NewTransientIO("cannot write cache temp file", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return errors.NewTransientIO("cannot sync cache temp file", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return errors.NewTransientIO("cannot close cache temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewTransientIO("cannot replace cache snapshot", err)
	}

	f.logger.Debug("cache snapshot written",
		zap.String("owner", owner), zap.Int("nodes", len(stamped.Nodes)))
	return nil
}

func sanitizeNodes(nodes []*node.Node) []*node.Node {
	out := make([]*node.Node, len(nodes))
	for i, n := range nodes {
		cp := *n
		if n.Fields != nil {
			cp.Fields = node.Sanitize(n.Fields).(map[string]any)
		}
		out[i] = &cp
	}
	return out
}

// ownerDir maps a plugin name to a filesystem-safe directory. Scoped
// names keep both parts: "@org/source" becomes "org__source".
func ownerDir(owner string) string {
	dir := strings.TrimPrefix(owner, "@")
	return strings.ReplaceAll(dir, "/", "__")
}
