package jid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jid.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := newCatalog(t)
	rec := Record{JobID: 1, DirID: 7, Priority: '5', Recipient: "ftp://mirror1/pub", Options: []string{"restart"}}
	require.NoError(t, c.Put(rec))

	got, found, err := c.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.DirID, got.DirID)
	require.Equal(t, rec.Recipient, got.Recipient)
	require.Equal(t, rec.Options, got.Options)
}

func TestGetMissingReportsNotFound(t *testing.T) {
	c := newCatalog(t)
	_, found, err := c.Get(999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutRejectsDuplicateJobID(t *testing.T) {
	c := newCatalog(t)
	require.NoError(t, c.Put(Record{JobID: 5}))
	err := c.Put(Record{JobID: 5, Recipient: "different"})
	require.Error(t, err)
}

func TestCurrentListContains(t *testing.T) {
	l := &CurrentList{IDs: []uint32{1, 2, 3}}
	require.True(t, l.Contains(2))
	require.False(t, l.Contains(4))
}
