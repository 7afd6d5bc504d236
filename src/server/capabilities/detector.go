// Package capabilities detects and represents server capabilities.
package capabilities

import (
	"encoding/json"
	"fmt"
	"strings"

	"lsp-pool/src/internal/types"
)

type ServerCapabilities struct {
	WorkspaceSymbolProvider interface{} `json:"workspaceSymbolProvider,omitempty"`
	DefinitionProvider      interface{} `json:"definitionProvider,omitempty"`
	ReferencesProvider      interface{} `json:"referencesProvider,omitempty"`
	ImplementationProvider  interface{} `json:"implementationProvider,omitempty"`
	HoverProvider           interface{} `json:"hoverProvider,omitempty"`
	DocumentSymbolProvider  interface{} `json:"documentSymbolProvider,omitempty"`
	RenameProvider          interface{} `json:"renameProvider,omitempty"`
}

type CapabilityDetector interface {
	ParseCapabilities(response json.RawMessage, serverCommand string) (ServerCapabilities, error)
	SupportsMethod(caps ServerCapabilities, method string) bool
}

type LSPCapabilityDetector struct{}

func NewLSPCapabilityDetector() *LSPCapabilityDetector {
	return &LSPCapabilityDetector{}
}

func (d *LSPCapabilityDetector) ParseCapabilities(response json.RawMessage, serverCommand string) (ServerCapabilities, error) {
	var initResponse struct {
		Capabilities ServerCapabilities `json:"capabilities"`
	}

	if err := json.Unmarshal(response, &initResponse); err != nil {
		return ServerCapabilities{}, fmt.Errorf("failed to unmarshal initialize response: %w", err)
	}

	caps := &initResponse.Capabilities

	// jdtls supports the core textDocument methods but may not report them
	if strings.Contains(serverCommand, "jdtls") {
		caps.DefinitionProvider = true
		caps.ReferencesProvider = true
		caps.HoverProvider = true
		caps.DocumentSymbolProvider = true
	}

	// OmniSharp is known to under-report capabilities
	if strings.Contains(strings.ToLower(serverCommand), "omnisharp") {
		if caps.DefinitionProvider == nil {
			caps.DefinitionProvider = true
		}
		if caps.ReferencesProvider == nil {
			caps.ReferencesProvider = true
		}
		if caps.HoverProvider == nil {
			caps.HoverProvider = true
		}
		if caps.DocumentSymbolProvider == nil {
			caps.DocumentSymbolProvider = true
		}
	}

	return initResponse.Capabilities, nil
}

func (d *LSPCapabilityDetector) SupportsMethod(caps ServerCapabilities, method string) bool {
	switch method {
	case types.MethodInitialize, types.MethodShutdown, types.MethodExit:
		return true
	case types.MethodWorkspaceSymbol:
		return d.isCapabilitySupported(caps.WorkspaceSymbolProvider)
	case types.MethodTextDocumentDefinition:
		return d.isCapabilitySupported(caps.DefinitionProvider)
	case types.MethodTextDocumentReferences:
		return d.isCapabilitySupported(caps.ReferencesProvider)
	case types.MethodTextDocumentImplementation:
		return d.isCapabilitySupported(caps.ImplementationProvider)
	case types.MethodTextDocumentHover:
		return d.isCapabilitySupported(caps.HoverProvider)
	case types.MethodTextDocumentDocumentSymbol:
		return d.isCapabilitySupported(caps.DocumentSymbolProvider)
	case types.MethodTextDocumentRename:
		return d.isCapabilitySupported(caps.RenameProvider)
	default:
		return true
	}
}

func (d *LSPCapabilityDetector) isCapabilitySupported(capability interface{}) bool {
	if capability == nil {
		return false
	}

	if boolVal, ok := capability.(bool); ok {
		return boolVal
	}

	// Some LSP servers report capabilities as option objects; a non-empty
	// object means the capability is supported.
	if mapVal, ok := capability.(map[string]interface{}); ok {
		return len(mapVal) > 0
	}

	return true
}
