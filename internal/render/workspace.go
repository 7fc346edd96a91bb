package render

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
)

// removeAll is swapped in tests to simulate an undeletable workspace.
var removeAll = os.RemoveAll

// Workspace is the job-scoped directory holding every intermediate file.
type Workspace struct {
	dir string
}

// NewWorkspace creates <root>/job-<id>. It fails if the directory already exists
// so two jobs never share intermediates.
func NewWorkspace(root, jobID string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir := filepath.Join(root, "job-"+jobID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, failure.Errorf(failure.InvalidInput, "workspace", "job %s is already running", jobID)
		}
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) Path(name string) string { return filepath.Join(w.dir, name) }

// Stage copies the background into the workspace so the source can change or
// disappear while the job runs.
func (w *Workspace) Stage(bg media.BackgroundAsset) (media.BackgroundAsset, error) {
	if bg.IsNone() {
		return bg, nil
	}
	dst := w.Path("background" + filepath.Ext(bg.Path))
	if err := copyFile(bg.Path, dst); err != nil {
		return bg, fmt.Errorf("stage background: %w", err)
	}
	return media.BackgroundAsset{Kind: bg.Kind, Path: dst}, nil
}

// Close removes the workspace and everything in it.
func (w *Workspace) Close() error {
	if w == nil || w.dir == "" {
		return nil
	}
	if err := removeAll(w.dir); err != nil {
		return failure.New(failure.ResourceCleanupFailure, "remove workspace", err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// moveFile renames src to dst, copying when they sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	_ = os.Remove(src)
	return nil
}
