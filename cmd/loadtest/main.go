// Command loadtest drives a running wiredrop send session with concurrent
// chunk-fetch workers and reports throughput and error-rate statistics.
// There is no S3 backend in this design, so unlike the teacher's loadtest
// binary there is no environment (MinIO/Garage) to provision first — this
// just points a worker pool at an already-running send process.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type stats struct {
	requests  int64
	errors    int64
	bytesRead int64
}

func (s *stats) addRequest(n int64, err error) {
	atomic.AddInt64(&s.requests, 1)
	atomic.AddInt64(&s.bytesRead, n)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
	}
}

func (s *stats) snapshot() (requests, errors, bytesRead int64) {
	return atomic.LoadInt64(&s.requests), atomic.LoadInt64(&s.errors), atomic.LoadInt64(&s.bytesRead)
}

func main() {
	baseURL := flag.String("base-url", "http://127.0.0.1:8443", "base URL of the running send process")
	token := flag.String("token", "", "session token from the claim URL (required)")
	fileIndex := flag.Int("file-index", 0, "file index to hammer with chunk requests")
	chunkCount := flag.Int("chunk-count", 1, "number of distinct chunk indices to cycle through")
	workers := flag.Int("workers", 8, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "how long to run the load test")
	clientID := flag.String("client-id", "", "client id to claim with (default: random uuid)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *token == "" {
		logger.Fatal("-token is required")
	}
	if *clientID == "" {
		*clientID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("interrupt received, stopping early")
		cancel()
	}()

	httpClient := &http.Client{Timeout: 10 * time.Second}

	claimURL := fmt.Sprintf("%s/send/%s/manifest?clientId=%s", *baseURL, *token, *clientID)
	if err := claim(ctx, httpClient, claimURL); err != nil {
		logger.WithError(err).Fatal("failed to claim session")
	}
	logger.WithField("claim_url", claimURL).Info("claimed session")

	st := &stats{}
	var wg sync.WaitGroup
	start := time.Now()

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, httpClient, *baseURL, *token, *clientID, *fileIndex, *chunkCount, st)
		}(w)
	}

	progressDone := make(chan struct{})
	go reportProgress(ctx, logger, st, progressDone)

	wg.Wait()
	close(progressDone)

	elapsed := time.Since(start)
	requests, errors, bytesRead := st.snapshot()
	logger.WithFields(logrus.Fields{
		"duration":     elapsed.Round(time.Millisecond),
		"requests":     requests,
		"errors":       errors,
		"error_rate":   fmt.Sprintf("%.2f%%", errorRate(requests, errors)),
		"bytes_read":   humanize.Bytes(uint64(bytesRead)),
		"throughput":   humanize.Bytes(uint64(float64(bytesRead)/elapsed.Seconds())) + "/s",
		"requests_sec": fmt.Sprintf("%.1f", float64(requests)/elapsed.Seconds()),
	}).Info("load test complete")
}

func errorRate(requests, errors int64) float64 {
	if requests == 0 {
		return 0
	}
	return float64(errors) / float64(requests) * 100.0
}

func claim(ctx context.Context, client *http.Client, claimURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, claimURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("claim returned status %d", resp.StatusCode)
	}
	return nil
}

// runWorker cycles through chunkCount chunk indices of fileIndex,
// requesting each as fast as the server answers, until ctx is done.
func runWorker(ctx context.Context, client *http.Client, baseURL, token, clientID string, fileIndex, chunkCount int, st *stats) {
	chunkIdx := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		url := fmt.Sprintf("%s/send/%s/%d/chunk/%d?clientId=%s", baseURL, token, fileIndex, chunkIdx%chunkCount, clientID)
		n, err := fetchChunk(ctx, client, url)
		st.addRequest(n, err)

		chunkIdx++
	}
}

func fetchChunk(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, err
	}
	if resp.StatusCode != http.StatusOK {
		return n, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return n, nil
}

func reportProgress(ctx context.Context, logger *logrus.Logger, st *stats, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			requests, errors, bytesRead := st.snapshot()
			logger.WithFields(logrus.Fields{
				"requests":   requests,
				"errors":     errors,
				"bytes_read": humanize.Bytes(uint64(bytesRead)),
			}).Info("load test progress")
		}
	}
}
