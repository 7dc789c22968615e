// Package archive persists a mapping run: the kept match points and the two
// resampling maps, plus a TOML manifest describing them.
//
// Arrays are stored in gonum's binary matrix encoding, one file per array.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"warpmap/pkg/geometry"

	"github.com/pelletier/go-toml/v2"
	"gonum.org/v1/gonum/mat"
)

// Array and manifest file names inside an archive directory.
const (
	ManifestFile    = "manifest.toml"
	MatchPointsFile = "match_points.mat"
	ColumnMapFile   = "column_map.mat"
	RowMapFile      = "row_map.mat"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version    string        `toml:"version"`
	Created    time.Time     `toml:"created"`
	ImageA     string        `toml:"image_a"`
	ImageB     string        `toml:"image_b"`
	Grid       geometry.Size `toml:"grid"`        // Map size in pyramid pixels
	MatchScale float64       `toml:"match_scale"` // Match points are multiplied by this
	Matches    int           `toml:"matches"`     // Before filtering
	Kept       int           `toml:"kept"`        // Rows of match_points
	Preview    string        `toml:"preview,omitempty"`
}

// Archive is the in-memory form of an archive directory.
type Archive struct {
	Manifest    Manifest
	MatchPoints *mat.Dense // n x 4; nil when nothing was kept
	ColumnMap   *mat.Dense
	RowMap      *mat.Dense
}

// Write stores a in dir, creating it if needed.
func Write(dir string, a *Archive) error {
	if a.ColumnMap == nil || a.RowMap == nil {
		return fmt.Errorf("archive: missing resampling maps")
	}
	if r, c := a.ColumnMap.Dims(); r != a.Manifest.Grid.Height || c != a.Manifest.Grid.Width {
		return fmt.Errorf("archive: column map is %dx%d, manifest grid is %dx%d",
			c, r, a.Manifest.Grid.Width, a.Manifest.Grid.Height)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	if a.MatchPoints != nil {
		if err := writeMatrix(filepath.Join(dir, MatchPointsFile), a.MatchPoints); err != nil {
			return err
		}
	}
	if err := writeMatrix(filepath.Join(dir, ColumnMapFile), a.ColumnMap); err != nil {
		return err
	}
	if err := writeMatrix(filepath.Join(dir, RowMapFile), a.RowMap); err != nil {
		return err
	}

	data, err := toml.Marshal(a.Manifest)
	if err != nil {
		return fmt.Errorf("archive: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

// Read loads an archive written by Write.
func Read(dir string) (*Archive, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	a := &Archive{}
	if err := toml.Unmarshal(data, &a.Manifest); err != nil {
		return nil, fmt.Errorf("archive: decode manifest: %w", err)
	}

	a.MatchPoints, err = readMatrix(filepath.Join(dir, MatchPointsFile))
	if errors.Is(err, fs.ErrNotExist) && a.Manifest.Kept == 0 {
		a.MatchPoints, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.ColumnMap, err = readMatrix(filepath.Join(dir, ColumnMapFile)); err != nil {
		return nil, err
	}
	if a.RowMap, err = readMatrix(filepath.Join(dir, RowMapFile)); err != nil {
		return nil, err
	}

	if a.MatchPoints != nil {
		if rows, _ := a.MatchPoints.Dims(); rows != a.Manifest.Kept {
			return nil, fmt.Errorf("archive: manifest lists %d matches, %s has %d",
				a.Manifest.Kept, MatchPointsFile, rows)
		}
	}
	return a, nil
}

func writeMatrix(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	w := bufio.NewWriter(f)
	if _, err := m.MarshalBinaryTo(w); err != nil {
		f.Close()
		return fmt.Errorf("archive: encode %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("archive: %w", err)
	}
	return f.Close()
}

func readMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	var m mat.Dense
	if _, err := m.UnmarshalBinaryFrom(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}
