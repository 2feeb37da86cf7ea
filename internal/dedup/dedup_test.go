package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHandleDeleteWritesLogAndUnlinks(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.dat", "hello")

	var logged []Record
	h := &Handler{WorkDir: dir, WriteLog: func(r Record) error {
		logged = append(logged, r)
		return nil
	}}

	disp, err := h.Handle(DCDelete, path, Record{Filename: "a.dat", JobID: 1, Proc: "worker"}, "")
	require.NoError(t, err)
	require.Equal(t, "deleted", disp)
	require.Len(t, logged, 1)
	require.EqualValues(t, 5, logged[0].Size)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestHandleWarnLeavesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "b.dat", "hello")

	h := &Handler{WorkDir: dir}
	disp, err := h.Handle(DCWarn, path, Record{Filename: "b.dat", JobID: 2}, "")
	require.NoError(t, err)
	require.Equal(t, "warned", disp)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestHandleStoreMovesUnderJobIDDir(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.dat", "hello")

	h := &Handler{WorkDir: dir}
	disp, err := h.Handle(DCStore, path, Record{Filename: "c.dat", JobID: 3}, "1a2b")
	require.NoError(t, err)
	require.Equal(t, "stored", disp)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "files", "store", "1a2b", "c.dat"))
	require.NoError(t, statErr)
}

func TestHandleStoreFallsBackToDeleteWhenStoreDirUnusable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "d.dat", "hello")

	// Make the destination a file where a directory is expected, so
	// creating the store directory fails.
	storeDir := filepath.Join(dir, "files", "store", "badjob")
	require.NoError(t, os.MkdirAll(filepath.Dir(storeDir), 0755))
	require.NoError(t, os.WriteFile(storeDir, []byte("not a dir"), 0644))

	var logged []Record
	h := &Handler{WorkDir: dir, WriteLog: func(r Record) error { logged = append(logged, r); return nil }}
	disp, err := h.Handle(DCStore, path, Record{Filename: "d.dat", JobID: 4}, "badjob")
	require.NoError(t, err)
	require.Equal(t, "deleted", disp)
	require.Len(t, logged, 1)
}

func TestHandleNoFlagsIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "e.dat", "hello")

	h := &Handler{WorkDir: dir}
	disp, err := h.Handle(0, path, Record{Filename: "e.dat"}, "")
	require.NoError(t, err)
	require.Equal(t, "none", disp)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
