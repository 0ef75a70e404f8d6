// Command wiredrop starts one send or receive transfer process: it binds
// a local HTTP listener, prints the claim URL and session-key fragment
// for the out-of-scope client/UI layer to consume, and exits once the
// transfer completes or is interrupted.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kenneth/wiredrop/internal/api"
	"github.com/kenneth/wiredrop/internal/audit"
	"github.com/kenneth/wiredrop/internal/config"
	wdcrypto "github.com/kenneth/wiredrop/internal/crypto"
	"github.com/kenneth/wiredrop/internal/debug"
	"github.com/kenneth/wiredrop/internal/manifest"
	"github.com/kenneth/wiredrop/internal/metrics"
	"github.com/kenneth/wiredrop/internal/progress"
	"github.com/kenneth/wiredrop/internal/receive"
	"github.com/kenneth/wiredrop/internal/runtime"
	"github.com/kenneth/wiredrop/internal/send"
	"github.com/kenneth/wiredrop/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	destProfile string
	port        int
	clientID    string
	configPath  string
)

func main() {
	root := &cobra.Command{
		Use:   "wiredrop",
		Short: "Encrypted chunked file transfer over a single HTTP session",
	}
	root.PersistentFlags().StringVar(&destProfile, "dest-profile", "local", "transfer profile: local or tunnel")
	root.PersistentFlags().IntVar(&port, "port", 0, "port to bind (0 picks an ephemeral port)")
	root.PersistentFlags().StringVar(&clientID, "client-id", "", "client id placed in the printed claim URL (default: random uuid)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newSendCommand())
	root.AddCommand(newReceiveCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send <files...>",
		Short: "Serve files for a remote peer to pull",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args)
		},
	}
}

func newReceiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "receive <dest-dir>",
		Short: "Accept files pushed by a remote peer into dest-dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(args[0])
		},
	}
}

func transferConfig() config.TransferConfig {
	if destProfile == "tunnel" {
		return config.Tunnel()
	}
	return config.Local()
}

func resolveClientID() string {
	if clientID != "" {
		return clientID
	}
	return uuid.NewString()
}

func buildLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if fi, err := os.Stdout.Stat(); err == nil && (fi.Mode()&os.ModeCharDevice) != 0 {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	debug.InitFromLogLevel(level)
	if debug.Enabled() {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func runSend(paths []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Transfer = transferConfig()
	logger := buildLogger(cfg.Logging.Level)

	m, err := buildSendManifest(paths, cfg.Transfer)
	if err != nil {
		return err
	}

	var sessionKey [32]byte
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return fmt.Errorf("generate session key: %w", err)
	}
	sess, err := session.NewForDirection(sessionKey, session.DirectionSend)
	if err != nil {
		return err
	}

	state := send.New(sess, m)
	logHardwareStatus(logger, cfg)

	reg := prometheus.NewRegistry()
	m2 := metrics.NewMetricsWithRegistry(reg)
	auditLog := audit.New(cfg.Audit.MaxEvents, nil)
	handler := send.NewHandler(state, logger, m2, auditLog)

	readyCheck := func(ctx context.Context) error {
		for _, f := range m.Files {
			if _, err := os.Stat(f.Path); err != nil {
				return err
			}
		}
		return nil
	}

	return runLifecycle(logger, cfg, m2, handler, readyCheck, runtime.NewSendDirection(state), state.Progress, totalSize(m), "send")
}

func runReceive(destDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.Transfer = transferConfig()
	logger := buildLogger(cfg.Logging.Level)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var sessionKey [32]byte
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return fmt.Errorf("generate session key: %w", err)
	}
	sess, err := session.NewForDirection(sessionKey, session.DirectionReceive)
	if err != nil {
		return err
	}

	state := receive.New(sess, destDir)

	reg := prometheus.NewRegistry()
	m2 := metrics.NewMetricsWithRegistry(reg)
	auditLog := audit.New(cfg.Audit.MaxEvents, nil)
	handler := receive.NewHandler(state, logger, m2, auditLog)

	readyCheck := func(ctx context.Context) error {
		probe := filepath.Join(destDir, ".wiredrop-ready-probe")
		f, err := os.Create(probe)
		if err != nil {
			return err
		}
		f.Close()
		return os.Remove(probe)
	}

	logHardwareStatus(logger, cfg)

	return runLifecycleReceive(logger, cfg, m2, handler, readyCheck, runtime.NewReceiveDirection(state), "receive")
}

// logHardwareStatus logs aes_hardware_support/architecture once at startup,
// per the hardware-acceleration contract both send and receive bind their
// cipher under.
func logHardwareStatus(logger *logrus.Logger, cfg *config.Config) {
	info := wdcrypto.GetHardwareAccelerationInfo(&cfg.Hardware)
	logger.WithFields(logrus.Fields(info)).Info("hardware acceleration status")
}

func runLifecycle(logger *logrus.Logger, cfg *config.Config, m *metrics.Metrics, handler api.RouteRegistrar, readyCheck api.ReadyCheck, dir runtime.Direction, tracker *progress.Tracker, totalBytes int64, direction string) error {
	router := api.NewRouter(handler, readyCheck, logger, m, "wiredrop."+direction)

	bindAddr := cfg.Server.ListenAddr
	if port != 0 {
		host, _, _ := net.SplitHostPort(bindAddr)
		bindAddr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
	}

	lc := &runtime.Lifecycle{
		Logger:          logger,
		BindAddr:        bindAddr,
		StartupTimeout:  cfg.Server.BindTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		Handler:         router,
		Dir:             dir,
		MetricsBindAddr: cfg.Metrics.ListenAddr,
	}
	if cfg.Metrics.Enabled {
		lc.MetricsHandler = api.NewMetricsRouter(m)
	}

	printClaimURL(direction, dir.Session(), bindAddr)

	ctx, cancel := signalContext(logger)
	defer cancel()

	complete := make(chan struct{})
	go watchProgress(logger, tracker, totalBytes, complete)

	return lc.Run(ctx, complete)
}

// runLifecycleReceive mirrors runLifecycle, reading from the receive
// handler's own progress tracker (nil until the remote posts a manifest).
func runLifecycleReceive(logger *logrus.Logger, cfg *config.Config, m *metrics.Metrics, handler *receive.Handler, readyCheck api.ReadyCheck, dir runtime.Direction, direction string) error {
	router := api.NewRouter(handler, readyCheck, logger, m, "wiredrop."+direction)

	bindAddr := cfg.Server.ListenAddr
	if port != 0 {
		host, _, _ := net.SplitHostPort(bindAddr)
		bindAddr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
	}

	lc := &runtime.Lifecycle{
		Logger:          logger,
		BindAddr:        bindAddr,
		StartupTimeout:  cfg.Server.BindTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		Handler:         router,
		Dir:             dir,
		MetricsBindAddr: cfg.Metrics.ListenAddr,
	}
	if cfg.Metrics.Enabled {
		lc.MetricsHandler = api.NewMetricsRouter(m)
	}

	printClaimURL(direction, dir.Session(), bindAddr)

	ctx, cancel := signalContext(logger)
	defer cancel()

	complete := make(chan struct{})
	go func() {
		// The receive tracker doesn't exist until SetManifest runs, so poll
		// for it rather than subscribing up front.
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
				if p := handler.State.Progress; p != nil {
					var totalBytes int64
					if m := handler.State.Manifest(); m != nil {
						totalBytes = totalSize(m)
					}
					watchProgress(logger, p, totalBytes, complete)
					return
				}
			}
		}
	}()

	return lc.Run(ctx, complete)
}

func watchProgress(logger *logrus.Logger, tracker *progress.Tracker, totalBytes int64, complete chan<- struct{}) {
	for snap := range tracker.Subscribe() {
		bytesDone := uint64(float64(totalBytes) * snap.Percent / 100.0)
		logger.WithFields(logrus.Fields{
			"completed_chunks": snap.CompletedChunks,
			"total_chunks":     snap.TotalChunks,
			"percent":          fmt.Sprintf("%.1f", snap.Percent),
			"bytes_done":       humanize.Bytes(bytesDone),
			"bytes_total":      humanize.Bytes(uint64(totalBytes)),
		}).Info("transfer progress")
		if snap.Percent >= 100.0 {
			close(complete)
			return
		}
	}
}

func signalContext(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := setupSignalHandler()
	go func() {
		for sig := range sigCh {
			if isShutdownSignal(sig) {
				logger.WithField("signal", sig.String()).Info("shutdown signal received")
				cancel()
				return
			}
			if isReloadSignal(sig) {
				logger.Info("reload signal received, ignoring: single-session process has nothing to reload mid-transfer")
			}
		}
	}()
	return ctx, cancel
}

func printClaimURL(direction string, sess *session.Session, bindAddr string) {
	clientID := resolveClientID()
	fmt.Printf("claim-url: http://%s/%s/%s/manifest?clientId=%s\n", bindAddr, direction, sess.Token(), clientID)
	fmt.Printf("fragment:  #key=%s\n", sess.SessionKeyB64())
}

func buildSendManifest(paths []string, transfer config.TransferConfig) (*manifest.Manifest, error) {
	m := &manifest.Manifest{
		ChunkSize:   transfer.ChunkSize,
		Concurrency: transfer.Concurrency,
	}
	for i, p := range paths {
		fi, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory, only individual files are supported", p)
		}
		var base wdcrypto.NonceBase
		if _, err := rand.Read(base[:]); err != nil {
			return nil, fmt.Errorf("generate nonce base for %s: %w", p, err)
		}
		m.Files = append(m.Files, manifest.FileEntry{
			Index:     i,
			Name:      filepath.Base(p),
			Path:      p,
			Size:      fi.Size(),
			NonceBase: base,
		})
	}
	fmt.Printf("prepared %d file(s), %s total\n", len(m.Files), humanize.IBytes(uint64(totalSize(m))))
	return m, nil
}

func totalSize(m *manifest.Manifest) int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}
