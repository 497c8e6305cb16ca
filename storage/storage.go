// Package storage implements the per-user backup storage directory: every
// file or directory written into it is mirrored into a timestamped backup
// copy alongside the primary.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/smallnest/fepstate/log"
	"github.com/smallnest/fepstate/state"
)

// subdirName is appended to the resolved base directory.
const subdirName = "fepstate"

// ErrUnsupportedContent is returned by CreateFile for contents that are
// neither text nor raw bytes.
var ErrUnsupportedContent = errors.New("string or []byte expected")

// ErrInvalidSourceName is returned by StoreFile when no destination name was
// given and none can be derived from the source path.
var ErrInvalidSourceName = errors.New("invalid source name")

// backupNameRe matches `<stem>_<YYYYMMDD_HHMMSS>[ext]`.
var backupNameRe = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})(\.[^.]*)?$`)

// Directory owns one storage directory. Writes and copies into it produce a
// second, timestamped backup copy in the same directory.
type Directory struct {
	path   string
	logger log.Logger
	clock  state.Clock
}

// Option configures a Directory at construction.
type Option func(*Directory)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger log.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

// WithClock sets the clock used for backup timestamps.
func WithClock(clock state.Clock) Option {
	return func(d *Directory) { d.clock = clock }
}

// New resolves and creates the storage directory. An empty path falls back
// to $XDG_CONFIG_HOME, then $HOME/.config, then ./.config; the fixed
// subdirectory name is appended in every case. A directory that already
// exists is accepted silently.
func New(path string, opts ...Option) (*Directory, error) {
	d := &Directory{
		logger: log.GetDefaultLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	if path == "" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			path = xdg
		} else if home := os.Getenv("HOME"); home != "" {
			path = filepath.Join(home, ".config")
		} else {
			path = filepath.Join(".", ".config")
			d.logger.Warn("you seem to be running on a non-UNIX system (or there are issues in your environment); " +
				"trying to go on, but you may experience errors")
		}
	}
	d.path = filepath.Join(path, subdirName)

	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", d.path, err)
	}
	return d, nil
}

// Path returns the managed directory.
func (d *Directory) Path() string {
	return d.path
}

// backupName derives the timestamped backup path for name:
// <stem>_<timestamp><ext> in the managed directory.
func (d *Directory) backupName(name string) string {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(d.path, fmt.Sprintf("%s_%s%s", stem, d.clock().Format(state.TimestampLayout), ext))
}

// CreateFile writes contents (string or []byte) to name inside the storage
// directory, then copies the fresh file to a timestamped backup name. A
// failed primary write propagates as-is; no cleanup of a partially written
// primary is attempted.
func (d *Directory) CreateFile(name string, contents any) error {
	var data []byte
	switch c := contents.(type) {
	case string:
		data = []byte(c)
	case []byte:
		data = c
	default:
		return fmt.Errorf("%w, got %T instead", ErrUnsupportedContent, contents)
	}

	primary := filepath.Join(d.path, name)
	if err := os.WriteFile(primary, data, 0o644); err != nil {
		return err
	}
	return copyFile(primary, d.backupName(name))
}

// StoreFile copies a file or directory into the storage directory under
// destName (derived from source's base name when empty), then makes a second
// timestamped backup copy. A directory source is copied recursively; an
// existing destination directory is removed and replaced.
func (d *Directory) StoreFile(source, destName string) error {
	if destName == "" {
		destName = filepath.Base(filepath.Clean(source))
		if destName == "" || destName == "." || destName == string(os.PathSeparator) {
			d.logger.Error("could not get a name from %s and destName was not supplied; cannot continue", source)
			return fmt.Errorf("%s: %w", source, ErrInvalidSourceName)
		}
	}

	dest := filepath.Join(d.path, destName)
	backup := d.backupName(destName)

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	if info.IsDir() {
		if err := copyTreeReplacing(source, dest); err != nil {
			return err
		}
		return copyTreeReplacing(source, backup)
	}

	if err := copyFile(source, dest); err != nil {
		return err
	}
	return copyFile(source, backup)
}

// BackupInfo describes one timestamped backup in the storage directory.
type BackupInfo struct {
	// Name is the backup's file name inside the directory
	Name string
	// Original is the primary name the backup was taken from
	Original string
	// Timestamp was parsed from the backup name
	Timestamp time.Time
	// Size in bytes; for directory backups, the total tree size
	Size int64
	// IsDir marks recursive directory backups
	IsDir bool
}

// ListBackups scans the storage directory and returns every entry whose name
// matches the backup pattern, sorted oldest first.
func (d *Directory) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, fmt.Errorf("read storage dir %s: %w", d.path, err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		match := backupNameRe.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		ts, err := time.ParseInLocation(state.TimestampLayout, match[2], time.Local)
		if err != nil {
			continue
		}

		size := int64(0)
		if entry.IsDir() {
			size, _ = treeSize(filepath.Join(d.path, entry.Name()))
		} else if info, err := entry.Info(); err == nil {
			size = info.Size()
		}

		backups = append(backups, BackupInfo{
			Name:      entry.Name(),
			Original:  match[1] + match[3],
			Timestamp: ts,
			Size:      size,
			IsDir:     entry.IsDir(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.Before(backups[j].Timestamp)
	})
	return backups, nil
}

// RemoveBackup deletes a backup by name. Directory backups are removed
// recursively.
func (d *Directory) RemoveBackup(name string) error {
	return os.RemoveAll(filepath.Join(d.path, name))
}

// copyFile copies src to dst byte for byte, truncating an existing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTreeReplacing recursively copies the directory src to dst, removing an
// existing destination first.
func copyTreeReplacing(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	return copyTree(src, dst)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func treeSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}
