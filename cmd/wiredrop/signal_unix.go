//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandler returns a channel fed SIGHUP, SIGINT, and SIGTERM.
func setupSignalHandler() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return ch
}

// isReloadSignal reports whether sig should trigger a config reload.
func isReloadSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}

// isShutdownSignal reports whether sig should trigger graceful shutdown.
func isShutdownSignal(sig os.Signal) bool {
	return sig == syscall.SIGINT || sig == syscall.SIGTERM
}
