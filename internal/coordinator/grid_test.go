package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridLocate(t *testing.T) {
	g := DefaultGrid()
	tests := []struct {
		x, y  int
		index int
		ok    bool
	}{
		{80, 48, 0, true},
		{240, 48, 1, true},
		{80, 144, 2, true},
		{319, 479, 9, true},
		{200, 400, 9, true},
		{160, 48, 0, false},
		{80, 96, 0, false},
		{0, 10, 0, false},
		{320, 10, 0, false},
		{10, 480, 0, false},
		{-5, 10, 0, false},
	}
	for _, tt := range tests {
		index, ok := g.Locate(tt.x, tt.y)
		assert.Equal(t, tt.ok, ok, "(%d,%d)", tt.x, tt.y)
		if tt.ok {
			assert.Equal(t, tt.index, index, "(%d,%d)", tt.x, tt.y)
		}
	}
}

func TestGridCellRoundTrip(t *testing.T) {
	g := DefaultGrid()
	for i := 0; i < g.Columns*g.Rows; i++ {
		x, y := g.Cell(i)
		index, ok := g.Locate(x+1, y+1)
		assert.True(t, ok)
		assert.Equal(t, i, index)
	}
}
