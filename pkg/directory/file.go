package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	gwerrors "github.com/ananta888/hubgate/pkg/errors"
	"github.com/ananta888/hubgate/pkg/logging"
)

const reloadDebounce = 50 * time.Millisecond

type fileFormat struct {
	Endpoints []Identity `yaml:"endpoints"`
}

// LoadFile reads an endpoints YAML file of the form:
//
//	endpoints:
//	  - name: hub
//	    base_url: http://localhost:5000
//	    role: hub
//	    shared_secret: hubsecret
func LoadFile(path string) ([]Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeConfigLoad, "read endpoints file").
			WithContext("path", path)
	}
	return Parse(data)
}

// Parse decodes endpoint YAML. Unknown fields are rejected.
func Parse(data []byte) ([]Identity, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, gwerrors.Wrap(err, gwerrors.ErrCodeConfigParse, "parse endpoints")
	}
	if err := Validate(f.Endpoints); err != nil {
		return nil, err
	}
	return f.Endpoints, nil
}

// Validate checks that every identity has a base URL and a known role, and
// that at most one is the hub.
func Validate(ids []Identity) error {
	hubs := 0
	for i, id := range ids {
		if normalizeBase(id.BaseURL) == "" {
			return gwerrors.New(gwerrors.ErrCodeConfigInvalid, fmt.Sprintf("endpoint %d has no base_url", i))
		}
		switch id.Role {
		case "", RoleWorker:
		case RoleHub:
			hubs++
		default:
			return gwerrors.New(gwerrors.ErrCodeConfigInvalid, fmt.Sprintf("endpoint %q has unknown role %q", id.Name, id.Role))
		}
	}
	if hubs > 1 {
		return gwerrors.New(gwerrors.ErrCodeConfigInvalid, "more than one endpoint has role hub")
	}
	return nil
}

// Watch reloads d from path whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are picked up. A file that fails to parse leaves d unchanged.
func Watch(ctx context.Context, d *Directory, path string, logger *logging.Logger) error {
	logger = logging.OrNop(logger).Named(logging.ComponentDirectory)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInternal, "create file watcher")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return gwerrors.Wrap(err, gwerrors.ErrCodeConfigLoad, "watch endpoints dir").WithContext("path", path)
	}

	go func() {
		defer watcher.Close()
		base := filepath.Base(path)
		var debounce *time.Timer
		reload := func() {
			ids, err := LoadFile(path)
			if err != nil {
				logger.Warn("endpoint reload failed", "path", path, "error", err)
				return
			}
			d.Replace(ids)
			logger.Info("endpoints reloaded", "path", path, "count", len(ids))
		}
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("endpoint watcher error", "error", err)
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
	return nil
}
