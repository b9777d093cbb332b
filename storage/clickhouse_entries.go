package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"logguard/config"
	"logguard/ingest"
	"logguard/metrics"
	"logguard/util/goroutine"
)

// ArchiveEntry is one parsed log line headed for the ClickHouse archive.
type ArchiveEntry struct {
	LogFileID string
	Entry     ingest.ParsedEntry
}

// EntryArchive streams parsed log entries into ClickHouse in batches. An LRU
// dedup cache drops exact re-submissions, which happens when a failed file is
// retried.
type EntryArchive struct {
	clickhouse    *ClickHouse
	entryCh       <-chan *ArchiveEntry
	batchSize     int
	flushInterval time.Duration
	dedupCache    *lru.Cache[string, bool]
	logger        *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEntryArchive creates the archive worker pool around an entry channel.
func NewEntryArchive(parentCtx context.Context, ch *ClickHouse, cfg *config.Config, entryCh <-chan *ArchiveEntry, logger *zap.SugaredLogger) (*EntryArchive, error) {
	dedupSize := cfg.ClickHouse.DedupCacheSize
	if dedupSize <= 0 {
		dedupSize = 10000
	}
	dedupCache, err := lru.New[string, bool](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	flushInterval := 5 * time.Second
	if cfg.ClickHouse.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.ClickHouse.FlushInterval) * time.Second
	}
	batchSize := cfg.ClickHouse.BatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &EntryArchive{
		clickhouse:    ch,
		entryCh:       entryCh,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		dedupCache:    dedupCache,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the batch workers.
func (ea *EntryArchive) Start(numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		ea.wg.Add(1)
		workerID := i
		go func() {
			defer ea.wg.Done()
			defer goroutine.Recover(fmt.Sprintf("entry-archive-worker-%d", workerID), ea.logger)
			ea.worker(workerID)
		}()
	}
}

// Stop signals shutdown and waits for workers to flush.
func (ea *EntryArchive) Stop() {
	ea.cancel()
	ea.wg.Wait()
}

func entryHash(e *ArchiveEntry) string {
	h := xxhash.New()
	_, _ = h.WriteString(e.LogFileID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(fmt.Sprintf("%d", e.Entry.LineNumber))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(e.Entry.Raw)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (ea *EntryArchive) worker(workerID int) {
	batch := make([]*ArchiveEntry, 0, ea.batchSize)
	flushTicker := time.NewTicker(ea.flushInterval)
	defer flushTicker.Stop()

	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := ea.insertBatch(ctx, batch); err != nil {
			metrics.EntryArchiveInsertFailures.Inc()
			ea.logger.Errorw("Failed to insert entry batch",
				"worker", workerID, "reason", reason, "batch_size", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-ea.entryCh:
			if !ok {
				// Channel closed: final flush must not use the possibly
				// cancelled worker context.
				flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				flush(flushCtx, "channel-close")
				cancel()
				return
			}
			hash := entryHash(entry)
			if _, seen := ea.dedupCache.Get(hash); seen {
				continue
			}
			ea.dedupCache.Add(hash, true)

			batch = append(batch, entry)
			if len(batch) >= ea.batchSize {
				flush(ea.ctx, "batch-full")
				flushTicker.Reset(ea.flushInterval)
			}

		case <-flushTicker.C:
			flush(ea.ctx, "timer")

		case <-ea.ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			flush(flushCtx, "shutdown")
			cancel()
			return
		}
	}
}

func (ea *EntryArchive) insertBatch(ctx context.Context, batch []*ArchiveEntry) error {
	prepared, err := ea.clickhouse.Conn.PrepareBatch(ctx, `
		INSERT INTO log_entries (entry_hash, log_file_id, line_number, format, timestamp, raw, fields)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range batch {
		fields, err := json.Marshal(e.Entry.Fields)
		if err != nil {
			ea.logger.Warnw("Skipping entry with unmarshalable fields",
				"log_file_id", e.LogFileID, "line", e.Entry.LineNumber, "error", err)
			continue
		}
		if err := prepared.Append(
			entryHash(e),
			e.LogFileID,
			uint32(e.Entry.LineNumber),
			e.Entry.Format,
			e.Entry.Timestamp,
			e.Entry.Raw,
			string(fields),
		); err != nil {
			return fmt.Errorf("failed to append entry to batch: %w", err)
		}
	}

	if err := prepared.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}
