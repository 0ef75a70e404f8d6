// Package runtime starts and stops one wiredrop send or receive process:
// backoff-bounded listener bind, the public transfer server, a separate
// loopback metrics server, and shutdown triggered by either transfer
// completion or external cancellation.
package runtime

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Lifecycle owns the two listeners (public transfer port, loopback metrics
// port) and the servers bound to them.
type Lifecycle struct {
	Logger *logrus.Logger

	BindAddr       string
	StartupTimeout time.Duration
	DrainTimeout   time.Duration
	TLSConfig      *tls.Config // nil serves plain HTTP, e.g. behind a tunnel that terminates TLS itself

	Handler http.Handler
	Dir     Direction // optional; when set, its Cleanup runs after shutdown

	MetricsBindAddr string
	MetricsHandler  http.Handler // nil disables the metrics listener
}

// Run binds the listener(s) with exponential-backoff retry bounded by
// StartupTimeout, serves until either ctx is canceled or complete fires,
// then drains within DrainTimeout. complete is closed by the caller when
// the transfer's progress tracker reaches 100%.
func (l *Lifecycle) Run(ctx context.Context, complete <-chan struct{}) error {
	listener, err := l.bindWithRetry(ctx, l.BindAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", l.BindAddr, err)
	}

	server := &http.Server{
		Handler:   l.Handler,
		TLSConfig: l.TLSConfig,
	}

	var metricsServer *http.Server
	var metricsListener net.Listener
	if l.MetricsHandler != nil {
		metricsListener, err = l.bindWithRetry(ctx, l.MetricsBindAddr)
		if err != nil {
			listener.Close()
			return fmt.Errorf("bind metrics %s: %w", l.MetricsBindAddr, err)
		}
		metricsServer = &http.Server{Handler: l.MetricsHandler}
	}

	serveErr := make(chan error, 2)
	go func() { serveErr <- serveOn(server, listener, l.TLSConfig != nil) }()
	if metricsServer != nil {
		go func() { serveErr <- metricsServer.Serve(metricsListener) }()
	}

	fields := logrus.Fields{
		"bind_addr": l.BindAddr,
		"tls":       l.TLSConfig != nil,
	}
	if l.Dir != nil {
		fields["service_path"] = l.Dir.ServicePath()
		fields["receiving"] = l.Dir.IsReceiving()
	}
	l.Logger.WithFields(fields).Info("serving")

	select {
	case <-ctx.Done():
		l.Logger.Info("shutdown requested via context cancellation")
	case <-complete:
		l.Logger.Info("transfer complete, shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownErr := l.shutdown(server, metricsServer)
	if l.Dir != nil {
		completed, total := l.Dir.TransferCount()
		l.Logger.WithFields(logrus.Fields{"completed_chunks": completed, "total_chunks": total}).Info("final transfer count")
		if err := l.Dir.Cleanup(); err != nil {
			l.Logger.WithError(err).Warn("cleanup failed")
		}
	}
	return shutdownErr
}

func serveOn(server *http.Server, listener net.Listener, useTLS bool) error {
	if useTLS {
		return server.ServeTLS(listener, "", "")
	}
	return server.Serve(listener)
}

func (l *Lifecycle) shutdown(servers ...*http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.DrainTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(servers))
	for i, s := range servers {
		if s == nil {
			continue
		}
		wg.Add(1)
		go func(i int, s *http.Server) {
			defer wg.Done()
			errs[i] = s.Shutdown(ctx)
		}(i, s)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	l.Logger.Info("shutdown complete")
	return nil
}

// bindWithRetry retries net.Listen with exponential backoff bounded by
// StartupTimeout — useful when the previous process's socket on a fixed
// debug port is still in TIME_WAIT.
func (l *Lifecycle) bindWithRetry(ctx context.Context, addr string) (net.Listener, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = l.StartupTimeout
	boCtx := backoff.WithContext(bo, ctx)

	var listener net.Listener
	operation := func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			l.Logger.WithError(err).WithField("addr", addr).Warn("bind failed, retrying")
			return err
		}
		listener = ln
		return nil
	}

	if err := backoff.Retry(operation, boCtx); err != nil {
		return nil, err
	}
	return listener, nil
}
