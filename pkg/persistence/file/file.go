// Package file provides file-based persistence for local development and
// tests. Every entity is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/flowzap/flowzap/pkg/persistence"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Persistence implements persistence.Persistence on top of the file system.
// A single lock covers all repositories so multi-entity writes (activation,
// step saves) stay consistent within the process.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a file persistence rooted at the given directory.
// The root may carry a file:// prefix, matching the persistence URL scheme.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (fp *Persistence) Flows() persistence.FlowRepository {
	return &FlowRepository{persistence: fp}
}

func (fp *Persistence) Versions() persistence.VersionRepository {
	return &VersionRepository{persistence: fp}
}

func (fp *Persistence) Sessions() persistence.SessionRepository {
	return &SessionRepository{persistence: fp}
}

func (fp *Persistence) Instances() persistence.InstanceRepository {
	return &InstanceRepository{persistence: fp}
}

func (fp *Persistence) Logs() persistence.LogRepository {
	return &LogRepository{persistence: fp}
}

func (fp *Persistence) Waits() persistence.WaitRepository {
	return &WaitRepository{persistence: fp}
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// write marshals the entity into <root>/<dir>/<id>.json. Callers hold the
// lock.
func (fp *Persistence) write(dir, id string, entity any) error {
	dirPath := filepath.Join(fp.root, dir)

	err := os.MkdirAll(dirPath, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirPath, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	filePath := filepath.Join(dirPath, id+".json")

	err = os.WriteFile(filePath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	return nil
}

// read unmarshals <root>/<dir>/<id>.json into entity. Returns notFound when
// the document does not exist. Callers hold the lock.
func (fp *Persistence) read(dir, id string, entity any, notFound error) error {
	filePath := filepath.Join(fp.root, dir, id+".json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	err = json.Unmarshal(data, entity)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return nil
}

// ids lists the entity ids stored under <root>/<dir>. Callers hold the lock.
func (fp *Persistence) ids(dir string) ([]string, error) {
	dirPath := filepath.Join(fp.root, dir)

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(dirPath), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dirPath, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

// remove deletes <root>/<dir>/<id>.json. Missing documents map to notFound.
// Callers hold the lock.
func (fp *Persistence) remove(dir, id string, notFound error) error {
	filePath := filepath.Join(fp.root, dir, id+".json")

	err := os.Remove(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to remove %s: %w", filePath, err)
	}

	return nil
}
