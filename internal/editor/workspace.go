// Package editor reads and writes files inside a single working directory
// on behalf of the /editor routes.
package editor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"uas-server/internal/util"
)

var (
	// ErrOutsideWorkspace is returned for any path that resolves outside the
	// working directory, before the filesystem is touched.
	ErrOutsideWorkspace = errors.New("path outside working directory")
	// ErrNotFound is returned when the target file or directory is missing.
	ErrNotFound = errors.New("not found")
	// ErrPathRequired is returned for an empty path.
	ErrPathRequired = errors.New("file path is required")
	// ErrInvalidAction is returned for an action other than open, save or insert.
	ErrInvalidAction = errors.New("action must be one of: open, save, insert")
	// ErrContentRequired is returned when save or insert has no content.
	ErrContentRequired = errors.New("content is required")
)

// Action is an editor operation.
type Action string

const (
	ActionOpen   Action = "open"
	ActionSave   Action = "save"
	ActionInsert Action = "insert"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionOpen, ActionSave, ActionInsert:
		return true
	}
	return false
}

// TestFileName is the file written by SelfTest, relative to the workspace.
const TestFileName = "test-editor-integration.txt"

// Workspace confines file operations to root.
type Workspace struct {
	root string
	now  func() time.Time
}

// NewWorkspace resolves root to an absolute, symlink-free directory.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", root)
	}
	return &Workspace{root: resolved, now: time.Now}, nil
}

// Root returns the resolved working directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps p onto an absolute path inside the workspace. Relative paths
// are taken from the workspace root. The lexical check runs first so a
// traversal attempt never reaches the filesystem; existing paths are then
// re-checked with symlinks resolved.
func (w *Workspace) Resolve(p string) (string, error) {
	if p == "" {
		return "", ErrPathRequired
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}
	target = filepath.Clean(target)
	if !isPathWithinDir(target, w.root) {
		return "", ErrOutsideWorkspace
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		// Not there yet: check the parent instead.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(target))
		if perr != nil {
			return target, nil
		}
		resolved = filepath.Join(parent, filepath.Base(target))
	}
	if !isPathWithinDir(resolved, w.root) {
		return "", ErrOutsideWorkspace
	}
	return target, nil
}

// isPathWithinDir is a separator-aware prefix check on cleaned paths.
func isPathWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// SendResult describes a completed editor action. Unused fields are omitted
// from JSON.
type SendResult struct {
	Message        string  `json:"message"`
	Path           string  `json:"path"`
	Content        *string `json:"content,omitempty"`
	Size           *int    `json:"size,omitempty"`
	InsertedLength *int    `json:"insertedLength,omitempty"`
	TotalLength    *int    `json:"totalLength,omitempty"`
}

// Send performs action on path. Lengths are counted in characters.
func (w *Workspace) Send(action Action, path, content string) (SendResult, error) {
	if path == "" {
		return SendResult{}, ErrPathRequired
	}
	if !action.Valid() {
		return SendResult{}, ErrInvalidAction
	}
	target, err := w.Resolve(path)
	if err != nil {
		return SendResult{}, err
	}

	switch action {
	case ActionOpen:
		data, err := os.ReadFile(target)
		if err != nil {
			return SendResult{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		text := string(data)
		return SendResult{Message: "File opened successfully", Path: path, Content: &text}, nil

	case ActionSave:
		if content == "" {
			return SendResult{}, fmt.Errorf("%w for %s action", ErrContentRequired, action)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return SendResult{}, fmt.Errorf("save %s: %w", path, err)
		}
		size := utf8.RuneCountInString(content)
		return SendResult{Message: "File saved successfully", Path: path, Size: &size}, nil

	default:
		if content == "" {
			return SendResult{}, fmt.Errorf("%w for %s action", ErrContentRequired, action)
		}
		existing, err := os.ReadFile(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return SendResult{}, fmt.Errorf("insert %s: %w", path, err)
		}
		combined := string(existing) + content
		if err := os.WriteFile(target, []byte(combined), 0o644); err != nil {
			return SendResult{}, fmt.Errorf("insert %s: %w", path, err)
		}
		inserted := utf8.RuneCountInString(content)
		total := utf8.RuneCountInString(combined)
		return SendResult{
			Message:        "Content inserted successfully",
			Path:           path,
			InsertedLength: &inserted,
			TotalLength:    &total,
		}, nil
	}
}

// FileInfo is the stat of one path.
type FileInfo struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	IsFile      bool   `json:"isFile"`
	IsDirectory bool   `json:"isDirectory"`
	CreatedAt   string `json:"createdAt"`
	ModifiedAt  string `json:"modifiedAt"`
	Permissions string `json:"permissions"`
}

// Stat describes path. CreatedAt falls back to the modification time since
// birth time is not portable.
func (w *Workspace) Stat(path string) (FileInfo, error) {
	target, err := w.Resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(target)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	mod := util.Timestamp(fi.ModTime())
	return FileInfo{
		Path:        path,
		Name:        filepath.Base(target),
		Size:        fi.Size(),
		IsFile:      fi.Mode().IsRegular(),
		IsDirectory: fi.IsDir(),
		CreatedAt:   mod,
		ModifiedAt:  mod,
		Permissions: fmt.Sprintf("%o", fi.Mode().Perm()),
	}, nil
}

// DirEntry is one row of a directory listing.
type DirEntry struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Size     int64   `json:"size"`
	Modified *string `json:"modified"`
}

// List returns the entries of dir, or of the workspace root when dir is
// empty. Entries that vanish mid-listing keep size 0 and a null time.
func (w *Workspace) List(dir string) ([]DirEntry, error) {
	if dir == "" {
		dir = w.root
	}
	target, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		row := DirEntry{Name: e.Name(), Type: "file"}
		if e.IsDir() {
			row.Type = "directory"
		}
		if fi, err := os.Stat(filepath.Join(target, e.Name())); err == nil {
			row.Size = fi.Size()
			ts := util.Timestamp(fi.ModTime())
			row.Modified = &ts
		}
		out = append(out, row)
	}
	return out, nil
}

// SelfTest writes TestFileName into the workspace and returns the number of
// characters written.
func (w *Workspace) SelfTest() (int, error) {
	content := fmt.Sprintf("Test file created at: %s\nThis is a test for editor integration.", util.Timestamp(w.now()))
	if err := os.WriteFile(filepath.Join(w.root, TestFileName), []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write test file: %w", err)
	}
	return utf8.RuneCountInString(content), nil
}
