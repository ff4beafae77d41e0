// Package avatars is the read-only avatar catalog served to clients.
package avatars

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Catalog struct {
	path string

	mu      sync.RWMutex
	avatars []domain.Avatar
	byID    map[domain.AvatarID]domain.Avatar
}

// Load reads a JSON or YAML catalog (chosen by file extension).
// A missing file yields an empty catalog rather than an error.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path, byID: map[domain.AvatarID]domain.Avatar{}}
	if err := c.reload(); err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("module", "app.avatars").Str("path", path).Msg("catalog not found, serving empty list")
			return c, nil
		}
		return nil, err
	}
	return c, nil
}

func decode(path string, data []byte) ([]domain.Avatar, error) {
	var out []domain.Avatar
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse yaml catalog: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parse json catalog: %w", err)
		}
	}
	return out, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	list, err := decode(c.path, data)
	if err != nil {
		return err
	}
	byID := make(map[domain.AvatarID]domain.Avatar, len(list))
	for _, a := range list {
		byID[a.ID] = a
	}
	c.mu.Lock()
	c.avatars = list
	c.byID = byID
	c.mu.Unlock()
	log.Info().Str("module", "app.avatars").Str("path", c.path).Int("count", len(list)).Msg("catalog loaded")
	return nil
}

func (c *Catalog) List() []domain.Avatar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Avatar, len(c.avatars))
	copy(out, c.avatars)
	return out
}

// Known reports whether id is in the catalog. An empty catalog accepts any id.
func (c *Catalog) Known(id domain.AvatarID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.byID) == 0 {
		return true
	}
	_, ok := c.byID[id]
	return ok
}

// Watch reloads the catalog whenever its file is written, until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (c *Catalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return err
	}
	target := filepath.Clean(c.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if err := c.reload(); err != nil {
					log.Warn().Err(err).Str("module", "app.avatars").Msg("catalog reload failed, keeping previous")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("module", "app.avatars").Msg("watch error")
			}
		}
	}()
	return nil
}
