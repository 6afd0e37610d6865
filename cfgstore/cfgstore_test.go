package cfgstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.jpl.nasa.gov/bdube/xpad/cfgstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("1 2 3\n"), 0o644))
}

func TestPath(t *testing.T) {
	s := cfgstore.New("/data/xpad")
	p, err := s.GlobalPath("beam_8keV")
	require.NoError(t, err)
	assert.Equal(t, "/data/xpad/beam_8keV.cfg", p)
	p, err = s.LocalPath("beam_8keV")
	require.NoError(t, err)
	assert.Equal(t, "/data/xpad/beam_8keV.cfl", p)

	for _, bad := range []string{"", "  ", "../etc/passwd", "a/b", `a\b`, ".."} {
		_, err := s.GlobalPath(bad)
		var bp cfgstore.ErrBadPrefix
		assert.True(t, errors.As(err, &bp), bad)
		assert.True(t, bp.InvalidArgument())
	}
}

func TestNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "otn_slow.cfg"))
	touch(t, filepath.Join(dir, "beam.cfg"))
	touch(t, filepath.Join(dir, "beam.cfl"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.cfg"), 0o755))

	names, err := cfgstore.New(dir).Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"beam", "otn_slow"}, names)
}

func TestNamesSkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, ".cfg"))
	touch(t, filepath.Join(dir, ".hidden.cfg"))
	touch(t, filepath.Join(dir, "beam.cfg"))

	names, err := cfgstore.New(dir).Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"beam"}, names)
}

func TestNamesMissingDir(t *testing.T) {
	names, err := cfgstore.New(filepath.Join(t.TempDir(), "nope")).Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestWatchRefreshesNames(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.cfg"))
	s := cfgstore.New(dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))
	defer s.Stop()

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	touch(t, filepath.Join(dir, "b.cfg"))
	assert.Eventually(t, func() bool {
		names, err := s.Names()
		return err == nil && len(names) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.cfg")))
	assert.Eventually(t, func() bool {
		names, err := s.Names()
		return err == nil && len(names) == 1 && names[0] == "b"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatchStopsWithContext(t *testing.T) {
	s := cfgstore.New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Watch(ctx))
	cancel()
	s.Stop()
}
