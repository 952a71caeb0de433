// Package worker implements the per-message enrichment state machine.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/enrich"
	"github.com/poucher/metadata-worker/internal/extract"
	"github.com/poucher/metadata-worker/internal/metrics"
)

// DefaultMaxAttempts is the delivery ceiling used when Config leaves it unset.
const DefaultMaxAttempts = 3

// metricGone labels deliveries for bookmarks deleted before processing.
const metricGone = "gone"

// Config controls Worker behavior.
type Config struct {
	MaxAttempts   int
	ResultTopic   string
	ArchivePrefix string
}

// Worker turns one delivery into at most one terminal bookmark transition.
// It keeps no state between calls, so a single Worker may be shared by
// concurrent consumers.
type Worker struct {
	fetcher   enrich.Fetcher
	store     enrich.Store
	blobStore enrich.BlobStore
	publisher enrich.Publisher
	hasher    enrich.Hasher
	clock     enrich.Clock
	ids       enrich.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore, publisher, hasher and ids are optional.
func New(
	fetcher enrich.Fetcher,
	store enrich.Store,
	blobStore enrich.BlobStore,
	publisher enrich.Publisher,
	hasher enrich.Hasher,
	clock enrich.Clock,
	ids enrich.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		store:     store,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming and settling messages until the context finishes
// or the queue stops handing out messages.
func (w *Worker) Run(ctx context.Context, queue enrich.Queue) {
	for {
		msg, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Info("queue stopped, worker exiting", zap.Error(err))
			}
			return
		}
		metrics.IncActiveWorkers()
		outcome, _ := w.Process(ctx, msg)
		metrics.DecActiveWorkers()
		if err := queue.Settle(ctx, msg, outcome); err != nil {
			w.logger.Error("settle message failed",
				zap.String("bookmark_id", msg.BookmarkID),
				zap.Stringer("outcome", outcome),
				zap.Error(err),
			)
		}
	}
}

// HandleDelivery decodes a raw message body and processes it. Bodies that
// cannot be decoded are discarded.
func (w *Worker) HandleDelivery(ctx context.Context, data []byte, attempt int) enrich.Outcome {
	msg, err := enrich.DecodeMessage(data, attempt)
	if err != nil {
		w.logger.Warn("discarding undecodable message", zap.Int("attempt", attempt), zap.Error(err))
		metrics.ObserveMessage(enrich.OutcomeDiscarded.String())
		return enrich.OutcomeDiscarded
	}
	outcome, _ := w.Process(ctx, msg)
	return outcome
}

// Process runs fetch, extraction and persistence for one delivery.
//
// A nil error means the delivery should be acknowledged (ready or
// discarded). A non-nil error means the delivery should be reported as
// failed; the outcome tells whether the bookmark is still pending (retry)
// or was marked failed.
//
// A bookmark whose row is gone is acknowledged as discarded without an
// outcome event. When ctx itself is done the attempt is not counted
// against the bookmark: it stays pending and the delivery is retried.
func (w *Worker) Process(ctx context.Context, msg enrich.Message) (enrich.Outcome, error) {
	msg.Attempt = enrich.ClampAttempt(msg.Attempt)
	fields := []zap.Field{
		zap.String("bookmark_id", msg.BookmarkID),
		zap.String("url", msg.URL),
		zap.Int("attempt", msg.Attempt),
	}

	if err := msg.Validate(); err != nil {
		w.logger.Warn("discarding message", append(fields, zap.Error(err))...)
		metrics.ObserveMessage(enrich.OutcomeDiscarded.String())
		return enrich.OutcomeDiscarded, nil
	}

	err := w.enrich(ctx, msg)
	switch {
	case err == nil:
		w.logger.Info("metadata ready", fields...)
		metrics.ObserveMessage(enrich.OutcomeReady.String())
		w.publishResult(ctx, msg, enrich.StatusReady, "")
		return enrich.OutcomeReady, nil
	case errors.Is(err, enrich.ErrBookmarkNotFound):
		return w.gone(fields, "metadata dropped")
	case ctx.Err() != nil:
		w.logger.Warn("metadata attempt interrupted", append(fields, zap.Error(err))...)
		metrics.ObserveMessage(enrich.OutcomeRetry.String())
		return enrich.OutcomeRetry, err
	}

	if msg.Attempt < w.cfg.MaxAttempts {
		w.logger.Warn("metadata attempt failed, will retry", append(fields, zap.Error(err))...)
		metrics.ObserveMessage(enrich.OutcomeRetry.String())
		return enrich.OutcomeRetry, err
	}

	reason := enrich.FailureReason(err)
	w.logger.Error("metadata failed", append(fields, zap.String("reason", reason))...)
	if markErr := w.store.MarkFailed(ctx, msg.BookmarkID, reason, w.clock.Now()); markErr != nil {
		if errors.Is(markErr, enrich.ErrBookmarkNotFound) {
			return w.gone(fields, "failure not recorded")
		}
		// The bookmark is still pending; let the transport deliver it again.
		w.logger.Error("mark failed", append(fields, zap.Error(markErr))...)
		metrics.ObserveMessage(enrich.OutcomeRetry.String())
		return enrich.OutcomeRetry, fmt.Errorf("mark failed: %w", markErr)
	}
	metrics.ObserveMessage(enrich.OutcomeFailed.String())
	w.publishResult(ctx, msg, enrich.StatusFailed, reason)
	return enrich.OutcomeFailed, err
}

// enrich runs the pipeline and converts panics into errors so that they
// follow the same retry policy as ordinary failures.
func (w *Worker) enrich(ctx context.Context, msg enrich.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error: %v", r)
		}
	}()

	page, err := w.fetch(ctx, msg.URL)
	if err != nil {
		return err
	}

	md := enrich.Project(msg.URL, extract.ExtractString(page.HTML), w.clock.Now())
	w.archive(ctx, msg, page)

	if err := w.store.SaveMetadata(ctx, msg.BookmarkID, msg.URL, md, w.clock.Now()); err != nil {
		if errors.Is(err, enrich.ErrBookmarkNotFound) {
			return err
		}
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// gone acknowledges a delivery for a bookmark that no longer exists. No
// transition happened, so no event is published.
func (w *Worker) gone(fields []zap.Field, msg string) (enrich.Outcome, error) {
	w.logger.Info("bookmark gone, "+msg, fields...)
	metrics.ObserveMessage(metricGone)
	return enrich.OutcomeDiscarded, nil
}

func (w *Worker) fetch(ctx context.Context, url string) (enrich.Page, error) {
	start := time.Now()
	page, err := w.fetcher.Fetch(ctx, url)
	switch {
	case err == nil:
		metrics.ObserveFetch(url, "ok", time.Since(start), page.Bytes)
	case errors.Is(err, enrich.ErrNotExtractable):
		metrics.ObserveFetch(url, "not_html", time.Since(start), 0)
	case errors.Is(err, enrich.ErrTimeout):
		metrics.ObserveFetch(url, "timeout", time.Since(start), 0)
	default:
		metrics.ObserveFetch(url, "error", time.Since(start), 0)
	}
	if err != nil {
		return enrich.Page{}, err
	}
	if page.Truncated {
		w.logger.Debug("body truncated", zap.String("url", url), zap.Int("bytes", page.Bytes))
	}
	return page, nil
}

func (w *Worker) buildBlobPath(bookmarkID, hash string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", bookmarkID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, bookmarkID, hash)
}

// archive stores the decoded page. Failures are logged only.
func (w *Worker) archive(ctx context.Context, msg enrich.Message, page enrich.Page) {
	if w.blobStore == nil || w.hasher == nil {
		return
	}
	body := []byte(page.HTML)
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash snapshot failed", zap.String("bookmark_id", msg.BookmarkID), zap.Error(err))
		return
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(msg.BookmarkID, hash), "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive snapshot failed", zap.String("bookmark_id", msg.BookmarkID), zap.Error(err))
		return
	}
	w.logger.Debug("snapshot archived", zap.String("bookmark_id", msg.BookmarkID), zap.String("blob_uri", uri))
}

// publishResult emits an outcome event. Failures are logged only.
func (w *Worker) publishResult(ctx context.Context, msg enrich.Message, status enrich.Status, reason string) {
	if w.cfg.ResultTopic == "" || w.publisher == nil {
		return
	}
	event := enrich.ResultEvent{
		BookmarkID: msg.BookmarkID,
		Status:     status,
		Error:      reason,
		Timestamp:  w.clock.Now().UTC(),
	}
	if w.ids != nil {
		id, err := w.ids.NewID()
		if err != nil {
			w.logger.Warn("generate event id failed", zap.Error(err))
		}
		event.ID = id
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.ResultTopic, event); err != nil {
		w.logger.Warn("publish result failed",
			zap.String("bookmark_id", msg.BookmarkID),
			zap.String("topic", w.cfg.ResultTopic),
			zap.Error(err),
		)
	}
}
