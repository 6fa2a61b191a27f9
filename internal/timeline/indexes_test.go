package timeline

import (
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryIndexPutGetDelete(t *testing.T) {
	idx := NewPrimaryIndex()
	leaf := EventLeaf{RecordHash: eventmodel.Sum([]byte("row")), CreatedMs: 1}
	idx.Put("row-1", leaf)

	got, ok := idx.Get("row-1")
	require.True(t, ok)
	assert.Equal(t, leaf, got)
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, []string{"row-1"}, idx.Keys())

	idx.Delete("row-1")
	_, ok = idx.Get("row-1")
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
}

func TestPrimaryIndexPutSupersedes(t *testing.T) {
	idx := NewPrimaryIndex()
	idx.Put("row-1", EventLeaf{CreatedMs: 1})
	idx.Put("row-1", EventLeaf{CreatedMs: 2})

	got, ok := idx.Get("row-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.CreatedMs)
	assert.Equal(t, 1, idx.Len())
}

func TestSecondaryIndexAddRemove(t *testing.T) {
	idx := NewSecondaryIndex()
	idx.Add("parent-1", "col-1", "child-1")
	idx.Add("parent-1", "col-1", "child-2")
	idx.Add("parent-1", "col-1", "child-1") // duplicate, ignored

	assert.Equal(t, []string{"child-1", "child-2"}, idx.Children("parent-1", "col-1"))

	idx.Remove("parent-1", "col-1", "child-1")
	assert.Equal(t, []string{"child-2"}, idx.Children("parent-1", "col-1"))

	// Removing something absent is a no-op.
	idx.Remove("parent-1", "col-1", "child-1")
	assert.Equal(t, []string{"child-2"}, idx.Children("parent-1", "col-1"))
}

func TestSecondaryIndexIsolatesBuckets(t *testing.T) {
	idx := NewSecondaryIndex()
	idx.Add("parent-1", "col-1", "child-1")
	idx.Add("parent-1", "col-2", "child-2")
	idx.Add("parent-2", "col-1", "child-3")

	assert.Equal(t, []string{"child-1"}, idx.Children("parent-1", "col-1"))
	assert.Equal(t, []string{"child-2"}, idx.Children("parent-1", "col-2"))
	assert.Equal(t, []string{"child-3"}, idx.Children("parent-2", "col-1"))
}

func TestParentIndexPutGet(t *testing.T) {
	idx := NewParentIndex()
	_, ok := idx.Get("child-1")
	assert.False(t, ok)

	idx.Put("child-1", ParentRef{CollectionID: "col-1", ParentKey: "parent-1"})
	got, ok := idx.Get("child-1")
	require.True(t, ok)
	assert.Equal(t, "parent-1", got.ParentKey)
	assert.Equal(t, "col-1", got.CollectionID)
}
