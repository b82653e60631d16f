package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "search_words.fsx")
	err := Write(path, []Postings{
		{WordID: 42, Messages: roaring.BitmapOf(3, 1, 2)},
		{WordID: 7, Messages: roaring.BitmapOf(10)},
		{WordID: 9, Messages: roaring.New()},
	})
	require.NoError(t, err)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 2, r.Words())
	assert.Equal(t, uint64(4), r.Entries())

	bm, err := r.Lookup(42)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, bm.ToArray())

	missing, err := r.Lookup(9)
	require.NoError(t, err)
	assert.True(t, missing.IsEmpty())

	var order []uint32
	require.NoError(t, r.ForEach(func(p Postings) error {
		order = append(order, p.WordID)
		return nil
	}))
	assert.Equal(t, []uint32{7, 42}, order)
}

func TestWriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	input := func() []Postings {
		return []Postings{
			{WordID: 5, Messages: roaring.BitmapOf(1, 2, 3, 4, 5)},
			{WordID: 1, Messages: roaring.BitmapOf(100)},
		}
	}
	a, b := filepath.Join(dir, "a.fsx"), filepath.Join(dir, "b.fsx")
	require.NoError(t, Write(a, input()))
	require.NoError(t, Write(b, input()))
	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestOpenReaderRejectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.fsx")
	require.NoError(t, Write(path, []Postings{{WordID: 1, Messages: roaring.BitmapOf(1)}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the JSON dictionary.
	data[len(data)-FooterSize-2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = OpenReader(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not a segment at all, far too short to be valid but long enough for a header read"), 0644))
	_, err = OpenReader(path)
	assert.Error(t, err)
}
