package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry manages versioned model dumps loaded from a directory. Models
// are immutable once registered; the active version is what the service
// predicts with, and the binary hash pins exactly which dump produced
// which forecasts.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	models  map[string]*RegisteredModel // version -> model
	active  string
}

// RegisteredModel is one loaded model with its provenance.
type RegisteredModel struct {
	Version      string
	Ensemble     *TreeEnsemble
	Path         string
	BinaryHash   string // SHA-256 of the dump file
	RegisteredAt time.Time
}

// NewRegistry creates an empty registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:    dir,
		models: make(map[string]*RegisteredModel),
	}
}

// LoadDir registers every *.json dump in the registry directory and
// activates the lexicographically newest version. Returns the number of
// models registered.
func (r *Registry) LoadDir() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read model directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, err := r.Register(filepath.Join(r.dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}

	if loaded > 0 && r.Active() == nil {
		r.mu.Lock()
		versions := make([]string, 0, len(r.models))
		for v := range r.models {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		r.active = versions[len(versions)-1]
		r.mu.Unlock()
	}
	return loaded, nil
}

// Register loads one dump file and adds it to the registry. Registering
// an already-known version with a different hash is an error: versions
// are immutable.
func (r *Registry) Register(path string) (*RegisteredModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model dump: %w", err)
	}

	ensemble, err := ParseEnsemble(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	hash := sha256.Sum256(data)
	rm := &RegisteredModel{
		Version:      ensemble.Version(),
		Ensemble:     ensemble,
		Path:         path,
		BinaryHash:   hex.EncodeToString(hash[:]),
		RegisteredAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.models[rm.Version]; ok {
		if existing.BinaryHash != rm.BinaryHash {
			return nil, fmt.Errorf("version %s already registered with different hash", rm.Version)
		}
		return existing, nil
	}
	r.models[rm.Version] = rm
	return rm, nil
}

// Activate switches the active version.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[version]; !ok {
		return fmt.Errorf("model version not registered: %s", version)
	}
	r.active = version
	return nil
}

// Active returns the active model, or nil if none is activated.
func (r *Registry) Active() *RegisteredModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil
	}
	return r.models[r.active]
}

// Versions lists registered versions in sorted order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := make([]string, 0, len(r.models))
	for v := range r.models {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}
