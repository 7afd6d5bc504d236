package operations

import (
	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
)

// GenerateNearbyPositions builds the candidate list for a position-
// tolerant request: the exact position first, then every offset within
// the tolerance window. Candidates with a negative line or character are
// dropped. A nil tolerance collapses the list to the exact position.
func GenerateNearbyPositions(line, character int, tolerance *config.ToleranceConfig) []protocol.Position {
	positions := []protocol.Position{
		{Line: uint32(line), Character: uint32(character)},
	}
	if tolerance == nil {
		return positions
	}

	for dl := -tolerance.Lines; dl <= tolerance.Lines; dl++ {
		for dc := -tolerance.Characters; dc <= tolerance.Characters; dc++ {
			if dl == 0 && dc == 0 {
				// Exact position is already first
				continue
			}
			l := line + dl
			c := character + dc
			if l < 0 || c < 0 {
				continue
			}
			positions = append(positions, protocol.Position{Line: uint32(l), Character: uint32(c)})
		}
	}

	return positions
}
