package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
)

func TestGenerateNearbyPositionsNilTolerance(t *testing.T) {
	positions := GenerateNearbyPositions(10, 5, nil)

	assert.Equal(t, []protocol.Position{{Line: 10, Character: 5}}, positions)
}

func TestGenerateNearbyPositionsZeroRadius(t *testing.T) {
	positions := GenerateNearbyPositions(10, 5, &config.ToleranceConfig{})

	assert.Equal(t, []protocol.Position{{Line: 10, Character: 5}}, positions)
}

func TestGenerateNearbyPositionsWindow(t *testing.T) {
	positions := GenerateNearbyPositions(10, 5, &config.ToleranceConfig{Lines: 1, Characters: 1})

	// Full 3x3 window around the position
	assert.Len(t, positions, 9)
	assert.Equal(t, protocol.Position{Line: 10, Character: 5}, positions[0],
		"the exact position must come first")

	seen := make(map[protocol.Position]int)
	for _, pos := range positions {
		seen[pos]++
		assert.InDelta(t, 10, int(pos.Line), 1)
		assert.InDelta(t, 5, int(pos.Character), 1)
	}
	for pos, count := range seen {
		assert.Equal(t, 1, count, "duplicate candidate %v", pos)
	}
}

func TestGenerateNearbyPositionsClampsAtOrigin(t *testing.T) {
	positions := GenerateNearbyPositions(0, 0, &config.ToleranceConfig{Lines: 1, Characters: 1})

	assert.Equal(t, protocol.Position{Line: 0, Character: 0}, positions[0])
	// Only the non-negative quadrant survives
	assert.Len(t, positions, 4)
	for _, pos := range positions {
		assert.LessOrEqual(t, pos.Line, uint32(1))
		assert.LessOrEqual(t, pos.Character, uint32(1))
	}
}

func TestGenerateNearbyPositionsAsymmetricWindow(t *testing.T) {
	positions := GenerateNearbyPositions(10, 5, &config.ToleranceConfig{Lines: 1, Characters: 2})

	// 3 lines x 5 characters
	assert.Len(t, positions, 15)
	assert.Equal(t, protocol.Position{Line: 10, Character: 5}, positions[0])
}
