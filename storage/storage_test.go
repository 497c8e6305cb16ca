package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/fepstate/log"
)

func fixedClock() time.Time {
	return time.Date(2024, 5, 17, 10, 30, 0, 0, time.Local)
}

const fixedStamp = "20240517_103000"

func newTestDir(t *testing.T) *Directory {
	t.Helper()
	d, err := New(t.TempDir(), WithClock(fixedClock), WithLogger(&log.NoOpLogger{}))
	require.NoError(t, err)
	return d
}

func TestNew_Resolution(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		base := t.TempDir()
		d, err := New(base)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "fepstate"), d.Path())

		info, err := os.Stat(d.Path())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("XDG_CONFIG_HOME", func(t *testing.T) {
		base := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", base)

		d, err := New("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "fepstate"), d.Path())
	})

	t.Run("HOME fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", home)

		d, err := New("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".config", "fepstate"), d.Path())
	})

	t.Run("current directory fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "")
		oldWd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(oldWd) })

		d, err := New("", WithLogger(&log.NoOpLogger{}))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(".config", "fepstate"), d.Path())
	})

	t.Run("existing directory is accepted", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(base, "fepstate"), 0o755))

		_, err := New(base)
		assert.NoError(t, err)
	})
}

func TestCreateFile(t *testing.T) {
	t.Parallel()

	t.Run("text contents with backup", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		require.NoError(t, d.CreateFile("x.svg", "<svg/>"))

		primary, err := os.ReadFile(filepath.Join(d.Path(), "x.svg"))
		require.NoError(t, err)
		assert.Equal(t, "<svg/>", string(primary))

		backup, err := os.ReadFile(filepath.Join(d.Path(), "x_"+fixedStamp+".svg"))
		require.NoError(t, err)
		assert.Equal(t, primary, backup)
	})

	t.Run("binary contents", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		data := []byte{0x89, 0x50, 0x4e, 0x47}
		require.NoError(t, d.CreateFile("img.png", data))

		backup, err := os.ReadFile(filepath.Join(d.Path(), "img_"+fixedStamp+".png"))
		require.NoError(t, err)
		assert.Equal(t, data, backup)
	})

	t.Run("file without extension", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		require.NoError(t, d.CreateFile("notes", "text"))

		_, err := os.Stat(filepath.Join(d.Path(), "notes_"+fixedStamp))
		assert.NoError(t, err)
	})

	t.Run("unsupported content type", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		err := d.CreateFile("bad", 42)
		assert.ErrorIs(t, err, ErrUnsupportedContent)

		_, statErr := os.Stat(filepath.Join(d.Path(), "bad"))
		assert.True(t, os.IsNotExist(statErr), "no partial side effects on validation failure")
	})
}

func TestStoreFile(t *testing.T) {
	t.Parallel()

	t.Run("plain file with derived name", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		src := filepath.Join(t.TempDir(), "topol.top")
		require.NoError(t, os.WriteFile(src, []byte("[ system ]"), 0o644))

		require.NoError(t, d.StoreFile(src, ""))

		primary, err := os.ReadFile(filepath.Join(d.Path(), "topol.top"))
		require.NoError(t, err)
		assert.Equal(t, "[ system ]", string(primary))

		backup, err := os.ReadFile(filepath.Join(d.Path(), "topol_"+fixedStamp+".top"))
		require.NoError(t, err)
		assert.Equal(t, primary, backup)
	})

	t.Run("explicit destination name", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		src := filepath.Join(t.TempDir(), "anything.dat")
		require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))

		require.NoError(t, d.StoreFile(src, "renamed.dat"))

		_, err := os.Stat(filepath.Join(d.Path(), "renamed.dat"))
		assert.NoError(t, err)
	})

	t.Run("underivable name", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		assert.ErrorIs(t, d.StoreFile("/", ""), ErrInvalidSourceName)
		assert.ErrorIs(t, d.StoreFile(".", ""), ErrInvalidSourceName)
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		err := d.StoreFile(filepath.Join(t.TempDir(), "nope.txt"), "")
		assert.Error(t, err)
	})

	t.Run("directory source", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		src := filepath.Join(t.TempDir(), "rundir")
		require.NoError(t, os.MkdirAll(filepath.Join(src, "inner"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "inner", "out.log"), []byte("done"), 0o644))

		require.NoError(t, d.StoreFile(src, ""))

		primary, err := os.ReadFile(filepath.Join(d.Path(), "rundir", "inner", "out.log"))
		require.NoError(t, err)
		assert.Equal(t, "done", string(primary))

		backup, err := os.ReadFile(filepath.Join(d.Path(), "rundir_"+fixedStamp, "inner", "out.log"))
		require.NoError(t, err)
		assert.Equal(t, primary, backup)
	})

	t.Run("directory collision replaces destination", func(t *testing.T) {
		t.Parallel()
		d := newTestDir(t)

		src := filepath.Join(t.TempDir(), "rundir")
		require.NoError(t, os.MkdirAll(src, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "v1.txt"), []byte("first"), 0o644))

		require.NoError(t, d.StoreFile(src, ""))

		// Change the source and store again under the same name.
		require.NoError(t, os.Remove(filepath.Join(src, "v1.txt")))
		require.NoError(t, os.WriteFile(filepath.Join(src, "v2.txt"), []byte("second"), 0o644))

		require.NoError(t, d.StoreFile(src, ""))

		_, err := os.Stat(filepath.Join(d.Path(), "rundir", "v1.txt"))
		assert.True(t, os.IsNotExist(err), "stale destination contents must be removed")

		second, err := os.ReadFile(filepath.Join(d.Path(), "rundir", "v2.txt"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(second))
	})
}

func TestListBackups(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	times := []time.Time{
		time.Date(2024, 5, 17, 10, 30, 0, 0, time.Local),
		time.Date(2024, 5, 17, 10, 30, 1, 0, time.Local),
		time.Date(2024, 5, 18, 9, 0, 0, 0, time.Local),
	}
	idx := 0
	d, err := New(base, WithLogger(&log.NoOpLogger{}), WithClock(func() time.Time {
		ts := times[idx%len(times)]
		idx++
		return ts
	}))
	require.NoError(t, err)

	require.NoError(t, d.CreateFile("x.svg", "<svg/>"))
	require.NoError(t, d.CreateFile("x.svg", "<svg v2/>"))
	require.NoError(t, d.CreateFile("y.dat", "data"))

	backups, err := d.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 3)

	// Oldest first.
	assert.Equal(t, "x_20240517_103000.svg", backups[0].Name)
	assert.Equal(t, "x.svg", backups[0].Original)
	assert.Equal(t, times[0], backups[0].Timestamp)
	assert.Equal(t, "x_20240517_103001.svg", backups[1].Name)
	assert.Equal(t, "y_20240518_090000.dat", backups[2].Name)

	// Primaries are not listed as backups.
	for _, b := range backups {
		assert.NotEqual(t, "x.svg", b.Name)
		assert.NotEqual(t, "y.dat", b.Name)
	}

	require.NoError(t, d.RemoveBackup(backups[0].Name))
	backups, err = d.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}
