package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// TempDir is the per-job working directory for extracted frames.
type TempDir struct {
	Path string
}

// NewTempDir returns the temp directory for a job keyed by sourceID under root.
func NewTempDir(root, sourceID string) TempDir {
	id := sourceID
	if len(id) > 16 {
		id = id[:16]
	}
	return TempDir{Path: filepath.Join(root, "mirage", id)}
}

// Create removes leftovers from an earlier run and creates the directory.
func (t TempDir) Create() error {
	if err := os.RemoveAll(t.Path); err != nil {
		return fmt.Errorf("failed to clear temp dir: %w", err)
	}
	if err := os.MkdirAll(t.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	return nil
}

// Remove deletes the directory and everything in it.
func (t TempDir) Remove() error {
	return os.RemoveAll(t.Path)
}

// OutputVideo is where the silent encoded video is written. ext selects the
// container and should match the final output.
func (t TempDir) OutputVideo(ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(t.Path, "temp"+ext)
}

// FramePaths lists the numbered frames in dir, ordered by frame number.
func FramePaths(dir, format string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    int
		path string
	}
	var frames []numbered
	suffix := "." + format
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, suffix))
		if err != nil {
			continue
		}
		frames = append(frames, numbered{n: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].n < frames[j].n })
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.path
	}
	return paths, nil
}
