package loki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/tandem-social/tandem/internal/setup/config"
)

// ErrUnexpectedStatusCode is returned when Loki responds with an unexpected status code.
var ErrUnexpectedStatusCode = errors.New("unexpected status code from Loki")

// Pusher batches log entries and pushes them to Loki in the background.
type Pusher struct {
	config  config.Loki
	labels  map[string]string
	client  *http.Client
	entries chan entry
	quit    chan struct{}
	wg      sync.WaitGroup
	batch   [][2]string
	pushURL string
	stopped sync.Once
}

// NewPusher creates a pusher and starts its batching loop.
func NewPusher(cfg config.Loki, labels map[string]string) *Pusher {
	batchSize := max(cfg.BatchMaxSize, 1)

	p := &Pusher{
		config:  cfg,
		labels:  labels,
		client:  &http.Client{Timeout: 10 * time.Second},
		entries: make(chan entry, batchSize*2),
		quit:    make(chan struct{}),
		batch:   make([][2]string, 0, batchSize),
		pushURL: cfg.URL + "/loki/api/v1/push",
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Add queues an entry, dropping it when the queue is full so logging never blocks.
func (p *Pusher) Add(e entry) {
	select {
	case p.entries <- e:
	default:
		slog.Warn("Loki entry queue full, dropping log entry")
	}
}

// Stop pushes whatever is queued and stops the loop.
func (p *Pusher) Stop() {
	p.stopped.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}

func (p *Pusher) run() {
	defer p.wg.Done()

	wait := time.Duration(max(p.config.BatchMaxWaitMS, 1)) * time.Millisecond
	ticker := time.NewTicker(wait)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			p.drain()
			p.flush()
			return
		case e := <-p.entries:
			p.batch = append(p.batch, [2]string{strconv.FormatInt(e.timestamp, 10), e.line})
			if len(p.batch) >= cap(p.batch) {
				p.flush()
			}
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *Pusher) drain() {
	for {
		select {
		case e := <-p.entries:
			p.batch = append(p.batch, [2]string{strconv.FormatInt(e.timestamp, 10), e.line})
		default:
			return
		}
	}
}

func (p *Pusher) flush() {
	if len(p.batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.send(ctx, p.batch); err != nil {
		slog.Error("Failed to push Loki batch", slog.Any("error", err), slog.Int("entries", len(p.batch)))
	}
	p.batch = p.batch[:0]
}

// send transmits one batch as a single gzip-compressed stream.
func (p *Pusher) send(ctx context.Context, values [][2]string) error {
	payload, err := sonic.Marshal(pushRequest{
		Streams: []stream{{Stream: p.labels, Values: values}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.pushURL, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	if p.config.Username != "" && p.config.Password != "" {
		req.SetBasicAuth(p.config.Username, p.config.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	return nil
}
