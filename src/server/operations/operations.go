// Package operations implements the position-tolerant, capability-gated
// request algorithms against pooled LSP clients.
package operations

import (
	"context"
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/common"
	"lsp-pool/src/internal/types"
	"lsp-pool/src/server/documents"
	"lsp-pool/src/server/pool"
	"lsp-pool/src/utils"
)

// Operations issues LSP requests through the client pool for a fixed
// workspace root.
type Operations struct {
	cfg           *config.Config
	pool          *pool.ClientPool
	workspaceRoot string
}

// NewOperations creates the operation layer over a pool.
func NewOperations(cfg *config.Config, p *pool.ClientPool, workspaceRoot string) *Operations {
	return &Operations{
		cfg:           cfg,
		pool:          p,
		workspaceRoot: workspaceRoot,
	}
}

// clientFor resolves the language for a file, obtains a pooled client and
// makes sure the file is open in it.
func (o *Operations) clientFor(ctx context.Context, file string) (types.LSPClient, string, error) {
	language := documents.DetectLanguage(file)
	if language == "" {
		return nil, "", fmt.Errorf("unsupported file type: %s", file)
	}

	client, err := o.pool.GetClient(ctx, language, o.workspaceRoot)
	if err != nil {
		return nil, "", err
	}

	uri := utils.FilePathToURI(file)
	if err := client.EnsureOpen(ctx, uri); err != nil {
		common.LSPLogger.Debug("Failed to open %s: %v", uri, err)
	}
	return client, uri, nil
}

// Hover returns hover information at the position, nudging it within the
// tolerance window until a result with content appears. Returns nil when
// the server does not support hover or no candidate yields content.
func (o *Operations) Hover(ctx context.Context, file string, line, character int) (*protocol.Hover, error) {
	client, uri, err := o.clientFor(ctx, file)
	if err != nil {
		return nil, err
	}
	if !client.Supports(types.MethodTextDocumentHover) {
		return nil, nil
	}

	for _, pos := range GenerateNearbyPositions(line, character, o.cfg.Pool.PositionTolerance) {
		raw, err := client.SendRequest(ctx, types.MethodTextDocumentHover, positionParams(uri, pos, nil))
		if err != nil {
			// Per-attempt errors are swallowed; the next candidate may hit
			continue
		}

		// Contents decodes as MarkupContent only; initialize advertises
		// contentFormat markdown/plaintext, so legacy MarkedString shapes
		// fall through to the next candidate.
		var hover *protocol.Hover
		if err := json.Unmarshal(raw, &hover); err != nil {
			continue
		}
		if hover != nil && hover.Contents.Value != "" {
			return hover, nil
		}
	}
	return nil, nil
}

// Definition returns the definition locations for the symbol at the
// position, tolerating coordinate imprecision.
func (o *Operations) Definition(ctx context.Context, file string, line, character int) ([]protocol.Location, error) {
	return o.tolerantLocations(ctx, file, line, character, types.MethodTextDocumentDefinition, nil)
}

// References returns every reference to the symbol at the position.
func (o *Operations) References(ctx context.Context, file string, line, character int, includeDeclaration bool) ([]protocol.Location, error) {
	extra := map[string]interface{}{
		"context": map[string]interface{}{"includeDeclaration": includeDeclaration},
	}
	return o.tolerantLocations(ctx, file, line, character, types.MethodTextDocumentReferences, extra)
}

// Implementation returns the implementation locations for the symbol at
// the position.
func (o *Operations) Implementation(ctx context.Context, file string, line, character int) ([]protocol.Location, error) {
	return o.tolerantLocations(ctx, file, line, character, types.MethodTextDocumentImplementation, nil)
}

// tolerantLocations runs one location-producing method over the candidate
// positions, accepting the first non-empty normalized result. Candidate
// exhaustion yields an empty list, never an error.
func (o *Operations) tolerantLocations(ctx context.Context, file string, line, character int, method string, extra map[string]interface{}) ([]protocol.Location, error) {
	client, uri, err := o.clientFor(ctx, file)
	if err != nil {
		return nil, err
	}
	if !client.Supports(method) {
		return []protocol.Location{}, nil
	}

	for _, pos := range GenerateNearbyPositions(line, character, o.cfg.Pool.PositionTolerance) {
		raw, err := client.SendRequest(ctx, method, positionParams(uri, pos, extra))
		if err != nil {
			continue
		}
		locations, err := NormalizeLocations(raw)
		if err != nil {
			common.LSPLogger.Debug("Failed to normalize %s response: %v", method, err)
			continue
		}
		if len(locations) > 0 {
			return locations, nil
		}
	}
	return []protocol.Location{}, nil
}

// DocumentSymbols returns the symbol outline of a file in hierarchical
// shape, converting flat SymbolInformation responses as needed. Single
// attempt; request failures propagate.
func (o *Operations) DocumentSymbols(ctx context.Context, file string) ([]protocol.DocumentSymbol, error) {
	client, uri, err := o.clientFor(ctx, file)
	if err != nil {
		return nil, err
	}
	if !client.Supports(types.MethodTextDocumentDocumentSymbol) {
		return nil, nil
	}

	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}
	raw, err := client.SendRequest(ctx, types.MethodTextDocumentDocumentSymbol, params)
	if err != nil {
		return nil, err
	}
	return normalizeDocumentSymbols(raw)
}

// WorkspaceSymbols searches for symbols across the workspace. With a
// language filter the matching server is started on demand; without one
// only currently active clients are queried. Request failures propagate.
func (o *Operations) WorkspaceSymbols(ctx context.Context, query, language string) ([]protocol.SymbolInformation, error) {
	var clients []types.LSPClient
	if language != "" {
		client, err := o.pool.GetClient(ctx, language, o.workspaceRoot)
		if err != nil {
			return nil, err
		}
		clients = []types.LSPClient{client}
	} else {
		clients = o.pool.ActiveClients()
	}

	params := map[string]interface{}{"query": query}
	var symbols []protocol.SymbolInformation
	for _, client := range clients {
		if !client.Supports(types.MethodWorkspaceSymbol) {
			continue
		}
		raw, err := client.SendRequest(ctx, types.MethodWorkspaceSymbol, params)
		if err != nil {
			return nil, fmt.Errorf("workspace symbol search failed for %s: %w", client.Language(), err)
		}
		var results []protocol.SymbolInformation
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("failed to parse workspace symbols from %s: %w", client.Language(), err)
		}
		symbols = append(symbols, results...)
	}
	return symbols, nil
}

// Rename renames the symbol at the position across the workspace. Single
// attempt at the exact position; request failures propagate. Returns nil
// when the server does not support rename.
func (o *Operations) Rename(ctx context.Context, file string, line, character int, newName string) (*protocol.WorkspaceEdit, error) {
	client, uri, err := o.clientFor(ctx, file)
	if err != nil {
		return nil, err
	}
	if !client.Supports(types.MethodTextDocumentRename) {
		return nil, nil
	}

	pos := protocol.Position{Line: uint32(line), Character: uint32(character)}
	params := positionParams(uri, pos, map[string]interface{}{"newName": newName})
	raw, err := client.SendRequest(ctx, types.MethodTextDocumentRename, params)
	if err != nil {
		return nil, err
	}

	var edit *protocol.WorkspaceEdit
	if err := json.Unmarshal(raw, &edit); err != nil {
		return nil, fmt.Errorf("failed to parse rename response: %w", err)
	}
	return edit, nil
}

// Diagnostics returns the last diagnostics the server published for the
// file. The list is a copy; mutating it does not affect the cache.
func (o *Operations) Diagnostics(ctx context.Context, file string) ([]protocol.Diagnostic, error) {
	client, uri, err := o.clientFor(ctx, file)
	if err != nil {
		return nil, err
	}

	diagnostics, ok := client.Diagnostics().Get(uri)
	if !ok {
		return []protocol.Diagnostic{}, nil
	}
	return diagnostics, nil
}

// positionParams builds the common textDocument/position parameter shape.
func positionParams(uri string, pos protocol.Position, extra map[string]interface{}) map[string]interface{} {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position": map[string]interface{}{
			"line":      pos.Line,
			"character": pos.Character,
		},
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}
