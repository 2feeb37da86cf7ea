package filemask

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	groups := []Group{
		{FilterCount: 2, Filters: [][]byte{[]byte("*.tif"), []byte("*.txt")}},
		{FilterCount: 1, Filters: [][]byte{[]byte("data_*")}},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, groups))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int32(2), got[0].FilterCount)
	require.Equal(t, [][]byte{[]byte("*.tif"), []byte("*.txt")}, got[0].Filters)
	require.Equal(t, [][]byte{[]byte("data_*")}, got[1].Filters)
}

func TestReadEmptyFileMask(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got, 0)
}

func TestReadRejectsNegativeGroupCount(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := Read(buf)
	require.Error(t, err)
}

func TestSplitNULTrimsTrailingNUL(t *testing.T) {
	out := splitNUL([]byte("a\x00b\x00"), 2)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, out)
}

func TestSplitNULNoDelimiterSingleFilter(t *testing.T) {
	out := splitNUL([]byte("onlyone"), 1)
	require.Equal(t, [][]byte{[]byte("onlyone")}, out)
}
