//go:build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandler returns a channel fed SIGINT and SIGTERM. Windows has
// no SIGHUP, so config reload is unreachable by signal on this platform.
func setupSignalHandler() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}

// isReloadSignal always reports false on Windows.
func isReloadSignal(sig os.Signal) bool {
	return false
}

// isShutdownSignal reports whether sig should trigger graceful shutdown.
func isShutdownSignal(sig os.Signal) bool {
	return sig == os.Interrupt || sig == syscall.SIGTERM
}
