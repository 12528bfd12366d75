package tracker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrInvalidBackupName is returned for names that would escape the
	// backup directory or are not workbooks.
	ErrInvalidBackupName = errors.New("invalid backup name")
	ErrBackupNotFound    = errors.New("backup not found")
	ErrBackupExists      = errors.New("backup already exists")
)

// Backups stores exported workbooks.
type Backups interface {
	// Save writes a new backup and returns its name. It never replaces an
	// existing backup and returns ErrBackupExists instead.
	Save(name string, data []byte) (string, error)

	// Get reads a backup by name
	Get(name string) ([]byte, error)

	// List returns backup names, newest first
	List() ([]string, error)

	// Delete removes a backup
	Delete(name string) error
}

// LocalBackups keeps backups as files in one directory. Pointing it at a
// synced folder shares backups across devices.
type LocalBackups struct {
	basePath string
}

// NewLocalBackups creates the backup directory if needed.
func NewLocalBackups(basePath string) (*LocalBackups, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	return &LocalBackups{basePath: basePath}, nil
}

func (l *LocalBackups) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".xlsx") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBackupName, name)
	}
	return filepath.Join(l.basePath, name), nil
}

// Save writes a backup file.
func (l *LocalBackups) Save(name string, data []byte) (string, error) {
	path, err := l.path(name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%w: %s", ErrBackupExists, name)
	}
	if err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing backup: %w", err)
	}
	return name, nil
}

// Get reads a backup file.
func (l *LocalBackups) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}
	return data, nil
}

// List returns the workbook files in the directory. Names embed a sortable
// timestamp, so reverse lexical order is newest first.
func (l *LocalBackups) List() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type()&fs.ModeType != 0 || !strings.HasSuffix(entry.Name(), ".xlsx") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Delete removes a backup file.
func (l *LocalBackups) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, name)
	} else if err != nil {
		return fmt.Errorf("deleting backup: %w", err)
	}
	return nil
}
