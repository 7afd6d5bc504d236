package process

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"lsp-pool/src/internal/common"
	"lsp-pool/src/internal/constants"
	"lsp-pool/src/internal/types"
)

// ProcessInfo holds information about a running LSP server process
type ProcessInfo struct {
	Cmd             *exec.Cmd
	Stdin           io.WriteCloser
	Stdout          io.ReadCloser
	Stderr          io.ReadCloser
	StopCh          chan struct{}
	Done            chan struct{}
	Active          bool
	IntentionalStop bool
	Language        string
}

// ShutdownSender interface for sending LSP shutdown messages
type ShutdownSender interface {
	SendShutdownRequest(ctx context.Context) error
	SendExitNotification(ctx context.Context) error
}

// ProcessManager interface for LSP server process lifecycle management
type ProcessManager interface {
	StartProcess(config types.ClientConfig, language string) (*ProcessInfo, error)
	StopProcess(info *ProcessInfo, sender ShutdownSender) error
	MonitorProcess(info *ProcessInfo, onExit func(error))
	CleanupProcess(info *ProcessInfo)
}

// LSPProcessManager implements ProcessManager for LSP server processes
type LSPProcessManager struct{}

// NewLSPProcessManager creates a new LSP process manager
func NewLSPProcessManager() *LSPProcessManager {
	return &LSPProcessManager{}
}

// StartProcess initializes and starts an LSP server process
func (pm *LSPProcessManager) StartProcess(config types.ClientConfig, language string) (*ProcessInfo, error) {
	cmd := exec.Command(config.Command, config.Args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}

	info := &ProcessInfo{
		Cmd:      cmd,
		StopCh:   make(chan struct{}),
		Done:     make(chan struct{}),
		Active:   false,
		Language: language,
	}

	var err error
	info.Stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	info.Stdout, err = cmd.StdoutPipe()
	if err != nil {
		info.Stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	info.Stderr, err = cmd.StderrPipe()
	if err != nil {
		info.Stdin.Close()
		info.Stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pm.CleanupProcess(info)
		return nil, fmt.Errorf("failed to start LSP server: %w", err)
	}

	common.LSPLogger.Info("Started LSP server process for %s: PID %d", language, cmd.Process.Pid)
	return info, nil
}

// StopProcess terminates an LSP server process gracefully
func (pm *LSPProcessManager) StopProcess(info *ProcessInfo, sender ShutdownSender) error {
	if info == nil {
		return nil
	}

	info.IntentionalStop = true

	select {
	case <-info.StopCh:
		// Already closed
	default:
		close(info.StopCh)
	}

	// Send shutdown and exit with their own short timeouts
	if sender != nil {
		pm.sendShutdown(sender)
	}

	info.Active = false

	// MonitorProcess owns Cmd.Wait; block on its completion signal here so
	// the process is reaped exactly once.
	if info.Cmd != nil && info.Cmd.Process != nil {
		select {
		case <-info.Done:
			// Process exited gracefully
		case <-time.After(constants.ProcessShutdownTimeout):
			common.LSPLogger.Warn("LSP server %s did not exit gracefully within %v, force killing", info.Language, constants.ProcessShutdownTimeout)
			if err := info.Cmd.Process.Kill(); err != nil {
				common.LSPLogger.Error("Failed to kill LSP server %s: %v", info.Language, err)
			}
			<-info.Done
		}
	}

	pm.CleanupProcess(info)

	return nil
}

// MonitorProcess watches an LSP server process and reports when it exits
func (pm *LSPProcessManager) MonitorProcess(info *ProcessInfo, onExit func(error)) {
	if info == nil || info.Cmd == nil || info.Cmd.Process == nil {
		common.LSPLogger.Error("MonitorProcess called with nil process info or command")
		if onExit != nil {
			onExit(fmt.Errorf("invalid process info"))
		}
		return
	}

	err := info.Cmd.Wait()
	close(info.Done)

	wasActive := info.Active

	if err != nil {
		if wasActive && !info.IntentionalStop {
			common.LSPLogger.Error("LSP server %s crashed unexpectedly: %v", info.Language, err)
		} else if !wasActive {
			common.LSPLogger.Warn("LSP server %s failed to start: %v", info.Language, err)
		}
	} else if wasActive && !info.IntentionalStop {
		common.LSPLogger.Info("LSP server %s exited", info.Language)
	}

	select {
	case <-info.StopCh:
		// Already stopped
	default:
		close(info.StopCh)
	}

	if onExit != nil {
		onExit(err)
	}
}

// CleanupProcess closes all pipes and resources
func (pm *LSPProcessManager) CleanupProcess(info *ProcessInfo) {
	if info == nil {
		return
	}

	if info.Stdin != nil {
		info.Stdin.Close()
		info.Stdin = nil
	}
	if info.Stdout != nil {
		info.Stdout.Close()
		info.Stdout = nil
	}
	if info.Stderr != nil {
		info.Stderr.Close()
		info.Stderr = nil
	}
}

// sendShutdown sends the shutdown request and exit notification
func (pm *LSPProcessManager) sendShutdown(sender ShutdownSender) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := sender.SendShutdownRequest(shutdownCtx); err != nil {
		common.LSPLogger.Debug("Shutdown request failed: %v", err)
	}

	exitCtx, exitCancel := context.WithTimeout(context.Background(), time.Second)
	defer exitCancel()
	if err := sender.SendExitNotification(exitCtx); err != nil {
		common.LSPLogger.Debug("Exit notification failed: %v", err)
	}
}
