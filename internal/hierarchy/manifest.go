package hierarchy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/th309/Realestate-sub002/internal/geo"
)

// Manifest describes one vintage of the authoritative boundary dataset: a
// dated label plus one extract file per adjacent level pair.
type Manifest struct {
	Vintage    string            `yaml:"vintage"`
	Source     string            `yaml:"source"`
	Levels     []LevelExtract    `yaml:"levels"`
	Geometries []GeometryExtract `yaml:"geometries,omitempty"`

	// baseDir is the manifest's directory; extract paths resolve against it.
	baseDir string
}

// GeometryExtract names an optional geometry/population file for one entity
// type.
type GeometryExtract struct {
	Type geo.EntityType `yaml:"type"`
	File string         `yaml:"file"`
}

// LevelExtract names the extract file for one (parentType, childType) pair.
type LevelExtract struct {
	ParentType geo.EntityType `yaml:"parent_type"`
	ChildType  geo.EntityType `yaml:"child_type"`
	File       string         `yaml:"file"`
}

// Pair is the human-readable label used in reports and logs.
func (l LevelExtract) Pair() string {
	return string(l.ChildType) + "->" + string(l.ParentType)
}

// Path resolves an extract file against the manifest location.
func (m *Manifest) Path(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(m.baseDir, file)
}

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Vintage == "" {
		return nil, fmt.Errorf("manifest %s: vintage is required", path)
	}
	if m.Source == "" {
		m.Source = "tiger"
	}
	if len(m.Levels) == 0 {
		return nil, fmt.Errorf("manifest %s: no levels", path)
	}
	for i, l := range m.Levels {
		if !l.ParentType.Valid() || !l.ChildType.Valid() {
			return nil, fmt.Errorf("manifest %s: level %d: unknown type", path, i)
		}
		// Equal levels are allowed for the county/metro overlap; a parent
		// finer than its child, or the same type on both sides, is not.
		if l.ParentType.Level() > l.ChildType.Level() || l.ParentType == l.ChildType {
			return nil, fmt.Errorf("manifest %s: level %d: %s is not coarser than %s",
				path, i, l.ParentType, l.ChildType)
		}
		if l.File == "" {
			return nil, fmt.Errorf("manifest %s: level %d: file is required", path, i)
		}
	}
	for i, g := range m.Geometries {
		if !g.Type.Valid() {
			return nil, fmt.Errorf("manifest %s: geometry %d: unknown type", path, i)
		}
		if g.File == "" {
			return nil, fmt.Errorf("manifest %s: geometry %d: file is required", path, i)
		}
	}

	m.baseDir = filepath.Dir(path)
	return &m, nil
}
