package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSortedDescendingOrder(t *testing.T) {
	var list []sortedEntry
	var err error
	list, err = insertSorted(list, NewId(5, "a"), "a")
	require.NoError(t, err)
	list, err = insertSorted(list, NewId(10, "b"), "b")
	require.NoError(t, err)
	list, err = insertSorted(list, NewId(1, "c"), "c")
	require.NoError(t, err)

	require.Len(t, list, 3)
	assert.Equal(t, "b", list[0].payload)
	assert.Equal(t, "a", list[1].payload)
	assert.Equal(t, "c", list[2].payload)
}

func TestInsertSortedOverridesByDefault(t *testing.T) {
	var list []sortedEntry
	var err error
	list, err = insertSorted(list, NewId(5, "a"), "a")
	require.NoError(t, err)
	list, err = insertSorted(list, NewId(5, "b"), "b")
	require.NoError(t, err)

	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].payload)
}

func TestInsertSortedNoOverrideFindsFreeSlot(t *testing.T) {
	var list []sortedEntry
	var err error
	list, err = insertSorted(list, NewId(5, "a"), "a")
	require.NoError(t, err)
	list, err = insertSorted(list, NewId(5, "b").WithNoOverride(), "b")
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].payload)
	assert.Equal(t, "b", list[1].payload)
}

func TestInsertSortedPriorityExhausted(t *testing.T) {
	var list []sortedEntry
	var err error
	const min = -2147483648
	list, err = insertSorted(list, NewId(min, "a"), "a")
	require.NoError(t, err)
	_, err = insertSorted(list, NewId(min, "b").WithNoOverride(), "b")
	require.Error(t, err)
	var exhausted *ErrPriorityExhausted
	assert.ErrorAs(t, err, &exhausted)
}
