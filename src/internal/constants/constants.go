package constants

import "time"

// Timeout defaults for LSP operations. Config values override these where
// a corresponding setting exists.
const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultInitializeTimeout = 15 * time.Second

	// Process management timeouts
	ProcessShutdownTimeout = 5 * time.Second
)

// Pool tuning
const (
	// IdleSweepInterval is how often the pool scans for idle clients.
	// Fixed on purpose: the sweep cadence must not depend on call volume.
	IdleSweepInterval = 30 * time.Second

	// DefaultIdleTimeout applies to languages without idle_timeout_ms.
	DefaultIdleTimeout = 5 * time.Minute

	// Restart backoff bounds. Delay doubles per attempt up to the cap.
	InitialRestartBackoff = 500 * time.Millisecond
	MaxRestartBackoff     = 30 * time.Second
)

// LSPResponseBufferSize is the read buffer for server output. Large enough
// for workspace/symbol responses that can run into the megabytes.
const LSPResponseBufferSize = 1024 * 1024

// SupportedExtensions maps language identifiers to file extensions.
var SupportedExtensions = map[string][]string{
	"go":         {".go"},
	"python":     {".py", ".pyi"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"java":       {".java"},
	"rust":       {".rs"},
}
