package types

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"
)

// DiagnosticsStore is the per-client view of published diagnostics.
// Implementations are bounded and must hand out copies: callers can never
// mutate cached state through a returned slice.
type DiagnosticsStore interface {
	Set(uri string, diagnostics []protocol.Diagnostic)
	Get(uri string) ([]protocol.Diagnostic, bool)
	Delete(uri string)
	Clear()
	Len() int
}

// LSPClient defines the unified interface for Language Server Protocol
// client operations: lifecycle management, request/notification handling,
// document bookkeeping, and capability checking. The pool owns clients
// exclusively through this interface.
type LSPClient interface {
	// Start spawns the server process and performs the initialize
	// handshake. Returns an error if the server fails to start or is
	// already running.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the server process.
	Stop() error

	// SendRequest sends a JSON-RPC request and waits for the response.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// SendNotification sends a JSON-RPC notification (no response).
	SendNotification(ctx context.Context, method string, params interface{}) error

	// EnsureOpen makes sure the document is open in the server, sending
	// textDocument/didOpen on first use and closing the least recently
	// opened document when the open-file cap is reached.
	EnsureOpen(ctx context.Context, uri string) error

	// OnCrash registers a single observer invoked at most once if the
	// server process terminates after successful initialization.
	OnCrash(fn func())

	// IsActive returns true if the server is running and initialized.
	IsActive() bool

	// Supports reports whether the capability snapshot captured at
	// initialization covers the given method.
	Supports(method string) bool

	// Language returns the language identifier this client serves.
	Language() string

	// Diagnostics returns the client's diagnostics store, fed by
	// textDocument/publishDiagnostics notifications.
	Diagnostics() DiagnosticsStore
}

// ClientConfig carries the process-level settings needed to spawn a
// language server.
type ClientConfig struct {
	Command               string
	Args                  []string
	WorkingDir            string
	InitializationOptions interface{}
}
