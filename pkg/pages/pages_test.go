package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenSinglePageSegment(t *testing.T) {
	layout, err := Flatten([]Segment{{Page: 10, Offset: 0, Length: PageSize}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), layout.Nents)
	assert.Equal(t, uint16(0), layout.FirstOffset)
	assert.Equal(t, uint16(PageSize), layout.LastLength)
}

func TestFlattenFourPageBuffer(t *testing.T) {
	// S1: a 4-page buffer starting at page 0.
	layout, err := Flatten([]Segment{{Page: 0, Offset: 0, Length: 4 * PageSize}})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), layout.Nents)
	assert.Equal(t, uint16(0), layout.FirstOffset)
	assert.Equal(t, uint16(PageSize), layout.LastLength)
	assert.Equal(t, []PageRef{0, 1, 2, 3}, layout.Pages)
}

func TestFlattenPartialFirstAndLast(t *testing.T) {
	layout, err := Flatten([]Segment{
		{Page: 5, Offset: 100, Length: PageSize - 100},
		{Page: 6, Offset: 0, Length: 200},
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(100), layout.FirstOffset)
	assert.Equal(t, uint16(200), layout.LastLength)
	assert.Equal(t, uint32(2), layout.Nents)
}

func TestFlattenRejectsEmpty(t *testing.T) {
	_, err := Flatten(nil)
	assert.Error(t, err)
}

func TestFlattenRejectsBadOffset(t *testing.T) {
	_, err := Flatten([]Segment{{Page: 0, Offset: PageSize, Length: 10}})
	assert.Error(t, err)
}
