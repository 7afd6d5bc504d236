package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/common"
	"lsp-pool/src/internal/types"
	"lsp-pool/src/server/cache"
	"lsp-pool/src/server/capabilities"
	"lsp-pool/src/server/documents"
	"lsp-pool/src/server/process"
	jsonrpc "lsp-pool/src/server/protocol"
	"lsp-pool/src/utils"
)

// pendingResponse carries one reply to a pending request. Exactly one of
// result and err is meaningful.
type pendingResponse struct {
	result json.RawMessage
	err    *jsonrpc.RPCError
}

// pendingRequest stores context for pending LSP requests
type pendingRequest struct {
	respCh chan pendingResponse
	done   chan struct{}
}

// StdioClient implements LSP communication over STDIO
type StdioClient struct {
	serverConfig    *config.ServerConfig
	poolConfig      config.PoolConfig
	language        string
	workspaceRoot   string
	capabilities    capabilities.ServerCapabilities
	capDetector     capabilities.CapabilityDetector
	processManager  process.ProcessManager
	processInfo     *process.ProcessInfo
	jsonrpcProtocol jsonrpc.JSONRPCProtocol
	diagnostics     *cache.DiagnosticsCache

	mu          sync.RWMutex
	writeMu     sync.Mutex
	active      bool
	initialized bool
	requests    map[string]*pendingRequest
	nextID      int

	docMu    sync.Mutex
	openDocs *documents.OpenTracker

	crashMu  sync.Mutex
	crashFn  func()
	crashed  bool
	notified bool
}

// NewStdioClient creates a new STDIO LSP client for a language/workspace pair
func NewStdioClient(language, workspaceRoot string, serverCfg *config.ServerConfig, poolCfg config.PoolConfig) types.LSPClient {
	return &StdioClient{
		serverConfig:    serverCfg,
		poolConfig:      poolCfg,
		language:        language,
		workspaceRoot:   workspaceRoot,
		capDetector:     capabilities.NewLSPCapabilityDetector(),
		processManager:  process.NewLSPProcessManager(),
		jsonrpcProtocol: jsonrpc.NewLSPJSONRPCProtocol(language),
		diagnostics:     cache.NewDiagnosticsCache(poolCfg.MaxDiagnostics),
		requests:        make(map[string]*pendingRequest),
		openDocs:        documents.NewOpenTracker(poolCfg.MaxOpenFiles),
	}
}

// Start spawns the LSP server process and performs the initialize handshake
func (c *StdioClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("client already active")
	}
	c.mu.Unlock()

	workingDir := c.serverConfig.WorkingDir
	if workingDir == "" {
		workingDir = c.workspaceRoot
	}
	processConfig := types.ClientConfig{
		Command:    c.serverConfig.Command,
		Args:       c.serverConfig.Args,
		WorkingDir: workingDir,
	}

	var err error
	c.processInfo, err = c.processManager.StartProcess(processConfig, c.language)
	if err != nil {
		return fmt.Errorf("failed to start LSP server: %w", err)
	}

	go func() {
		if err := c.jsonrpcProtocol.HandleResponses(c.processInfo.Stdout, c, c.processInfo.StopCh); err != nil {
			if !c.processInfo.IntentionalStop && err != io.EOF {
				common.LSPLogger.Error("Error handling responses for %s: %v", c.language, err)
			}
		}
	}()

	go c.logStderr()

	go c.processManager.MonitorProcess(c.processInfo, func(err error) {
		c.mu.Lock()
		wasInitialized := c.initialized
		c.active = false
		c.mu.Unlock()

		// Only a termination after successful initialization counts as a
		// crash; startup failures surface through Start instead.
		if wasInitialized && !c.processInfo.IntentionalStop {
			c.fireCrash()
		}
	})

	if err := c.initializeLSP(ctx); err != nil {
		c.processInfo.IntentionalStop = true
		c.processManager.CleanupProcess(c.processInfo)
		if c.processInfo.Cmd != nil && c.processInfo.Cmd.Process != nil {
			_ = c.processInfo.Cmd.Process.Kill()
		}
		return fmt.Errorf("failed to initialize LSP server: %w", err)
	}

	c.mu.Lock()
	c.active = true
	c.initialized = true
	c.mu.Unlock()
	c.processInfo.Active = true

	return nil
}

// Stop terminates the LSP server process
func (c *StdioClient) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.active = false
	c.mu.Unlock()

	err := c.processManager.StopProcess(c.processInfo, c)
	if err != nil {
		common.LSPLogger.Error("Error stopping process: %v", err)
	}

	return err
}

// SendRequest sends a JSON-RPC request and waits for response
func (c *StdioClient) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.RLock()
	active := c.active
	processInfo := c.processInfo
	c.mu.RUnlock()

	// Shutdown must go through after Stop flips the active flag
	if !active && method != types.MethodInitialize && method != types.MethodShutdown {
		return nil, fmt.Errorf("client not active")
	}

	c.mu.Lock()
	c.nextID++
	idVal := c.nextID
	id := fmt.Sprintf("%d", idVal)
	request := &pendingRequest{
		respCh: make(chan pendingResponse, 1),
		done:   make(chan struct{}),
	}
	c.requests[id] = request
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.requests, id)
		c.mu.Unlock()
		close(request.done)
	}()

	msg := jsonrpc.CreateMessage(method, idVal, params)

	c.writeMu.Lock()
	writeErr := c.jsonrpcProtocol.WriteMessage(c.processInfo.Stdin, msg)
	c.writeMu.Unlock()
	if writeErr != nil {
		common.LSPLogger.Error("Failed to send LSP request: method=%s, id=%s, error=%v", method, id, writeErr)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	timeoutDuration := c.poolConfig.RequestTimeout()
	if method == types.MethodInitialize {
		// LSP servers can be slow to start
		timeoutDuration = c.poolConfig.InitTimeout()
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutDuration)
	defer cancel()

	select {
	case response := <-request.respCh:
		// A server error response fails the request; it must never look
		// like a result payload to the caller.
		if response.err != nil {
			return nil, response.err
		}
		return response.result, nil
	case <-ctx.Done():
		cancelParams := map[string]interface{}{"id": idVal}
		if cancelErr := c.SendNotification(context.Background(), "$/cancelRequest", cancelParams); cancelErr != nil {
			common.LSPLogger.Debug("Failed to send cancel request for id=%s: %v", id, cancelErr)
		}
		return nil, fmt.Errorf("request timeout after %v for method %s", timeoutDuration, method)
	case <-processInfo.StopCh:
		if method == types.MethodShutdown || processInfo.IntentionalStop {
			common.LSPLogger.Debug("LSP client stopped during request: method=%s, id=%s", method, id)
		} else {
			common.LSPLogger.Warn("LSP client stopped during request: method=%s, id=%s", method, id)
		}
		return nil, fmt.Errorf("client stopped")
	}
}

// SendNotification sends a JSON-RPC notification (no response expected)
func (c *StdioClient) SendNotification(ctx context.Context, method string, params interface{}) error {
	c.mu.RLock()
	if !c.active && method != types.MethodInitialized && method != types.MethodExit {
		c.mu.RUnlock()
		return fmt.Errorf("client not active")
	}
	c.mu.RUnlock()

	msg := jsonrpc.CreateNotification(method, params)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.jsonrpcProtocol.WriteMessage(c.processInfo.Stdin, msg)
}

// EnsureOpen sends textDocument/didOpen for a document on first use and
// closes the oldest open document when the open-file cap is exceeded.
func (c *StdioClient) EnsureOpen(ctx context.Context, uri string) error {
	c.docMu.Lock()
	alreadyOpen, toClose := c.openDocs.Open(uri)
	c.docMu.Unlock()

	if alreadyOpen {
		return nil
	}

	for _, closeURI := range toClose {
		closeParams := map[string]interface{}{
			"textDocument": map[string]interface{}{"uri": closeURI},
		}
		if err := c.SendNotification(ctx, types.MethodTextDocumentDidClose, closeParams); err != nil {
			common.LSPLogger.Debug("Failed to send didClose for %s: %v", closeURI, err)
		}
		c.diagnostics.Delete(closeURI)
	}

	didOpenParams := map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        uri,
			"languageId": c.language,
			"version":    1,
			"text":       documents.ReadFileText(uri),
		},
	}
	if err := c.SendNotification(ctx, types.MethodTextDocumentDidOpen, didOpenParams); err != nil {
		return fmt.Errorf("failed to send didOpen notification: %w", err)
	}
	return nil
}

// OnCrash registers the crash observer. The observer fires at most once
// per client instance; if the process already died it fires immediately.
func (c *StdioClient) OnCrash(fn func()) {
	c.crashMu.Lock()
	alreadyCrashed := c.crashed && !c.notified
	if alreadyCrashed {
		c.notified = true
	} else {
		c.crashFn = fn
	}
	c.crashMu.Unlock()

	if alreadyCrashed && fn != nil {
		fn()
	}
}

func (c *StdioClient) fireCrash() {
	c.crashMu.Lock()
	if c.crashed {
		c.crashMu.Unlock()
		return
	}
	c.crashed = true
	fn := c.crashFn
	if fn != nil {
		c.notified = true
	}
	c.crashMu.Unlock()

	if fn != nil {
		fn()
	}
}

// IsActive returns true if the client is active
func (c *StdioClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Supports checks if the LSP server supports a specific method
func (c *StdioClient) Supports(method string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capDetector.SupportsMethod(c.capabilities, method)
}

// Language returns the language identifier this client serves
func (c *StdioClient) Language() string {
	return c.language
}

// Diagnostics returns the client's diagnostics store
func (c *StdioClient) Diagnostics() types.DiagnosticsStore {
	return c.diagnostics
}

// SendShutdownRequest sends a shutdown request to the LSP server (ShutdownSender interface)
func (c *StdioClient) SendShutdownRequest(ctx context.Context) error {
	_, err := c.SendRequest(ctx, types.MethodShutdown, nil)
	return err
}

// SendExitNotification sends an exit notification to the LSP server (ShutdownSender interface)
func (c *StdioClient) SendExitNotification(ctx context.Context) error {
	return c.SendNotification(ctx, types.MethodExit, nil)
}

// HandleRequest implements the MessageHandler interface for server-initiated requests
func (c *StdioClient) HandleRequest(method string, id interface{}, params interface{}) error {
	var result interface{}
	if method == "workspace/configuration" {
		result = []interface{}{map[string]interface{}{}}
	} else {
		// Explicit null result keeps servers from waiting on us
		result = json.RawMessage("null")
	}

	response := jsonrpc.CreateResponse(id, result, nil)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.jsonrpcProtocol.WriteMessage(c.processInfo.Stdin, response)
}

// HandleResponse implements the MessageHandler interface for client responses
func (c *StdioClient) HandleResponse(id interface{}, result json.RawMessage, rpcErr *jsonrpc.RPCError) error {
	idStr := fmt.Sprintf("%v", id)

	c.mu.RLock()
	req, exists := c.requests[idStr]
	processInfo := c.processInfo
	c.mu.RUnlock()

	if !exists {
		common.LSPLogger.Debug("No matching request found for response: id=%s", idStr)
		return nil
	}

	select {
	case req.respCh <- pendingResponse{result: result, err: rpcErr}:
	case <-req.done:
		common.LSPLogger.Debug("Request already completed when delivering response: id=%s", idStr)
	case <-processInfo.StopCh:
		common.LSPLogger.Debug("Client stopped when delivering response: id=%s", idStr)
	}

	return nil
}

// HandleNotification implements the MessageHandler interface for server-initiated notifications
func (c *StdioClient) HandleNotification(method string, params json.RawMessage) error {
	if method != types.MethodTextDocumentPublishDiagnostics {
		return nil
	}

	var publish struct {
		URI         string                `json:"uri"`
		Diagnostics []protocol.Diagnostic `json:"diagnostics"`
	}
	if err := json.Unmarshal(params, &publish); err != nil {
		common.LSPLogger.Debug("Failed to parse publishDiagnostics from %s: %v", c.language, err)
		return nil
	}

	c.diagnostics.Set(publish.URI, publish.Diagnostics)
	return nil
}

// initializeLSP sends the initialize request to start LSP communication
func (c *StdioClient) initializeLSP(ctx context.Context) error {
	rootURI := utils.FilePathToURI(c.workspaceRoot)

	initParams := map[string]interface{}{
		"processId": nil,
		"clientInfo": map[string]interface{}{
			"name":    "lsp-pool",
			"version": "1.0.0",
		},
		"rootUri":  rootURI,
		"rootPath": c.workspaceRoot,
		"workspaceFolders": []map[string]interface{}{
			{
				"uri":  rootURI,
				"name": c.workspaceRoot,
			},
		},
		"initializationOptions": c.serverConfig.InitializationOptions,
		"capabilities": map[string]interface{}{
			"workspace": map[string]interface{}{
				"applyEdit":        true,
				"workspaceEdit":    map[string]interface{}{"documentChanges": true},
				"symbol":           map[string]interface{}{"dynamicRegistration": true},
				"workspaceFolders": true,
			},
			"textDocument": map[string]interface{}{
				"publishDiagnostics": map[string]interface{}{
					"relatedInformation": true,
					"versionSupport":     false,
				},
				"synchronization": map[string]interface{}{
					"dynamicRegistration": true,
					"didSave":             true,
				},
				"hover": map[string]interface{}{
					"dynamicRegistration": true,
					"contentFormat":       []string{"markdown", "plaintext"},
				},
				"definition": map[string]interface{}{
					"dynamicRegistration": true,
					"linkSupport":         true,
				},
				"references": map[string]interface{}{
					"dynamicRegistration": true,
				},
				"implementation": map[string]interface{}{
					"dynamicRegistration": true,
					"linkSupport":         true,
				},
				"documentSymbol": map[string]interface{}{
					"dynamicRegistration":               true,
					"hierarchicalDocumentSymbolSupport": true,
				},
				"rename": map[string]interface{}{
					"dynamicRegistration": true,
					"prepareSupport":      true,
				},
			},
		},
		"trace": "off",
	}

	result, err := c.SendRequest(ctx, types.MethodInitialize, initParams)
	if err != nil {
		return err
	}

	if err := c.parseServerCapabilities(result); err != nil {
		// Capability detection failure should not prevent initialization
		common.LSPLogger.Warn("Failed to parse server capabilities for %s: %v", c.serverConfig.Command, err)
	}

	if err := c.SendNotification(ctx, types.MethodInitialized, map[string]interface{}{}); err != nil {
		common.LSPLogger.Error("Failed to send initialized notification for %s: %v", c.language, err)
		return err
	}
	return nil
}

// parseServerCapabilities parses the server capabilities from initialize response
func (c *StdioClient) parseServerCapabilities(result json.RawMessage) error {
	caps, err := c.capDetector.ParseCapabilities(result, c.serverConfig.Command)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.capabilities = caps
	c.mu.Unlock()

	return nil
}

// logStderr logs stderr output from the LSP server
func (c *StdioClient) logStderr() {
	c.mu.RLock()
	processInfo := c.processInfo
	c.mu.RUnlock()

	if processInfo == nil || processInfo.Stderr == nil {
		return
	}

	scanner := bufio.NewScanner(processInfo.Stderr)
	for scanner.Scan() {
		select {
		case <-processInfo.StopCh:
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "error") || strings.Contains(line, "Error") ||
				strings.Contains(line, "fatal") || strings.Contains(line, "Fatal") {
				common.LSPLogger.Error("LSP %s stderr: %s", c.serverConfig.Command, line)
			}
		}
	}
}
