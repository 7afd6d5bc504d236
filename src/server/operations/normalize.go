package operations

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"
)

// locationOrLink covers every shape a definition-style response element
// can take: a plain Location or a LocationLink. The populated fields
// discriminate the variant.
type locationOrLink struct {
	URI                  protocol.DocumentURI `json:"uri"`
	Range                protocol.Range       `json:"range"`
	TargetURI            protocol.DocumentURI `json:"targetUri"`
	TargetRange          protocol.Range       `json:"targetRange"`
	TargetSelectionRange *protocol.Range      `json:"targetSelectionRange"`
}

func (l locationOrLink) toLocation() protocol.Location {
	if l.TargetURI != "" {
		r := l.TargetRange
		if l.TargetSelectionRange != nil {
			// The selection range pins the symbol itself rather than the
			// whole declaration
			r = *l.TargetSelectionRange
		}
		return protocol.Location{URI: l.TargetURI, Range: r}
	}
	return protocol.Location{URI: l.URI, Range: l.Range}
}

// NormalizeLocations flattens every response shape a location request may
// produce (null, single Location, Location array, LocationLink array)
// into a flat location list.
func NormalizeLocations(raw json.RawMessage) ([]protocol.Location, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var single locationOrLink
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to parse location: %w", err)
		}
		return []protocol.Location{single.toLocation()}, nil
	case '[':
		var elements []locationOrLink
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil, fmt.Errorf("failed to parse location array: %w", err)
		}
		locations := make([]protocol.Location, 0, len(elements))
		for _, el := range elements {
			locations = append(locations, el.toLocation())
		}
		return locations, nil
	default:
		return nil, fmt.Errorf("unexpected location response shape: %s", truncateForLog(trimmed))
	}
}

// normalizeDocumentSymbols converts a documentSymbol response to the
// hierarchical shape. Servers may answer with either hierarchical
// DocumentSymbols or flat SymbolInformation entries; the first element
// decides, and flat entries borrow their location's range for both range
// and selection range.
func normalizeDocumentSymbols(raw json.RawMessage) ([]protocol.DocumentSymbol, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("failed to parse documentSymbol response: %w", err)
	}
	if len(elements) == 0 {
		return nil, nil
	}

	var probe struct {
		Location *protocol.Location `json:"location"`
	}
	if err := json.Unmarshal(elements[0], &probe); err != nil {
		return nil, fmt.Errorf("failed to probe documentSymbol shape: %w", err)
	}

	if probe.Location == nil {
		var symbols []protocol.DocumentSymbol
		if err := json.Unmarshal(trimmed, &symbols); err != nil {
			return nil, fmt.Errorf("failed to parse document symbols: %w", err)
		}
		return symbols, nil
	}

	var flat []protocol.SymbolInformation
	if err := json.Unmarshal(trimmed, &flat); err != nil {
		return nil, fmt.Errorf("failed to parse symbol information: %w", err)
	}

	symbols := make([]protocol.DocumentSymbol, 0, len(flat))
	for _, si := range flat {
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           si.Name,
			Detail:         si.ContainerName,
			Kind:           si.Kind,
			Deprecated:     si.Deprecated,
			Range:          si.Location.Range,
			SelectionRange: si.Location.Range,
		})
	}
	return symbols, nil
}

func truncateForLog(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
