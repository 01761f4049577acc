// Package delivery forwards completed verification records to the downstream
// notification endpoint, decoupled from the request path that produced them.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/verigate/verigate/internal/archive"
	"github.com/verigate/verigate/internal/model"
)

// Config holds webhook delivery settings.
type Config struct {
	WebhookURL string
	APISecret  string
	// MaxAttempts is the total number of POSTs per record, including the
	// first. BaseDelay is the first retry delay; it doubles per attempt.
	MaxAttempts uint64
	BaseDelay   time.Duration
	Workers     int
	QueueSize   int
	Timeout     time.Duration
}

// Attempt tracks the forwarding state of one record. It lives only for the
// process lifetime; the durable record written at completion is the recovery
// path if the process dies first.
type Attempt struct {
	RecordID    string     `json:"record_id"`
	Count       int        `json:"attempt_count"`
	LastError   string     `json:"last_error,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// StatusCallback is invoked after each record's delivery concludes, success
// or failure.
type StatusCallback func(rec *model.VerificationRecord, att Attempt)

// Pipeline runs a bounded worker pool fed by a queue of completed records.
// Delivery outcome is purely advisory: failure is logged and reported through
// the callback but never rolls back a completed session.
type Pipeline struct {
	cfg      Config
	client   *http.Client
	archiver *archive.Writer
	callback StatusCallback
	queue    chan *model.VerificationRecord
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg Config, archiver *archive.Writer, callback StatusCallback, logger *slog.Logger) *Pipeline {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Pipeline{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		archiver: archiver,
		callback: callback,
		queue:    make(chan *model.VerificationRecord, cfg.QueueSize),
		logger:   logger,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("delivery pipeline started", "workers", p.cfg.Workers)
}

// Stop cancels in-flight deliveries and waits for the workers to exit.
// Abandoned records stay recoverable from the store and archive.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue hands a completed record to the pipeline without blocking the
// caller. A full queue drops the record from the delivery path; the durable
// copy written at completion remains the recovery path.
func (p *Pipeline) Enqueue(rec *model.VerificationRecord) {
	select {
	case p.queue <- rec:
	default:
		p.logger.Warn("delivery queue full, relying on durable copy",
			"record_id", rec.ID, "subject_id", rec.SubjectID)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-p.queue:
			p.process(ctx, rec)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, rec *model.VerificationRecord) {
	att := Attempt{RecordID: rec.ID}

	// The archive copy goes down before the first network attempt, so a
	// record that never delivers still has two durable homes.
	if p.archiver != nil {
		if _, err := p.archiver.Write(ctx, rec); err != nil {
			p.logger.Error("archive record", "record_id", rec.ID, "error", err)
		}
	}

	body, err := json.Marshal(rec)
	if err != nil {
		att.LastError = err.Error()
		p.logger.Error("marshal record", "record_id", rec.ID, "error", err)
		p.report(rec, att)
		return
	}

	backoff := retry.WithMaxRetries(p.cfg.MaxAttempts-1, retry.NewExponential(p.cfg.BaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		att.Count++
		if err := p.post(ctx, body); err != nil {
			att.LastError = err.Error()
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		p.logger.Error("delivery failed, durable copy retained",
			"record_id", rec.ID, "attempts", att.Count, "error", err)
		p.report(rec, att)
		return
	}

	now := time.Now().UTC()
	att.DeliveredAt = &now
	att.LastError = ""
	p.logger.Info("record delivered", "record_id", rec.ID, "attempts", att.Count)
	p.report(rec, att)
}

func (p *Pipeline) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Secret", p.cfg.APISecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Pipeline) report(rec *model.VerificationRecord, att Attempt) {
	if p.callback != nil {
		p.callback(rec, att)
	}
}
