package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/veridoc-ai/veridoc/domain/bulkjobs"
	"github.com/veridoc-ai/veridoc/domain/documents"
	"github.com/veridoc-ai/veridoc/domain/events"
	"github.com/veridoc-ai/veridoc/domain/reviewqueue"
	"github.com/veridoc-ai/veridoc/domain/tasks"
	"github.com/veridoc-ai/veridoc/domain/transcripts"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/storage"
	"github.com/veridoc-ai/veridoc/pkg/logger"
	"github.com/veridoc-ai/veridoc/pkg/prompts"
	"github.com/veridoc-ai/veridoc/pkg/raster"
	"github.com/veridoc-ai/veridoc/pkg/syshealth"
	"github.com/veridoc-ai/veridoc/pkg/tracing"
	"github.com/veridoc-ai/veridoc/pkg/vision"
)

// Processing stages written to documents.processing_stage while a worker
// holds the claim.
const (
	stageFetching    = "fetching"
	stageRasterizing = "rasterizing"
	stageExtracting  = "extracting"
	stagePersisting  = "persisting"
)

// documentTypeBank selects the bank-statement prompt path with its
// sequential first-batch gate.
const documentTypeBank = "bank_statement"

// ExtractionWorker drains ext.extraction_tasks and runs the per-document
// pipeline: claim, fetch, rasterize, batched vision calls, field
// flattening, atomic persistence, transcript build, review routing and
// event publication.
type ExtractionWorker struct {
	tasks       *tasks.Service
	docs        *documents.Repository
	jobs        *bulkjobs.Service
	transcripts *transcripts.Repository
	review      *reviewqueue.Service
	events      *events.Service
	gateway     *storage.Gateway
	vision      *vision.Service
	prompts     *prompts.Builder
	raster      *raster.Service
	scaler      *syshealth.ConcurrencyScaler
	cfg         *config.ExtractionConfig
	log         *slog.Logger
	workerID    string

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex
	wg        sync.WaitGroup

	// Metrics
	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewExtractionWorker creates the document extraction worker.
func NewExtractionWorker(
	taskSvc *tasks.Service,
	docs *documents.Repository,
	jobSvc *bulkjobs.Service,
	transcriptRepo *transcripts.Repository,
	review *reviewqueue.Service,
	eventBus *events.Service,
	gateway *storage.Gateway,
	visionSvc *vision.Service,
	promptBuilder *prompts.Builder,
	rasterSvc *raster.Service,
	scaler *syshealth.ConcurrencyScaler,
	cfg *config.Config,
	log *slog.Logger,
) *ExtractionWorker {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return &ExtractionWorker{
		tasks:       taskSvc,
		docs:        docs,
		jobs:        jobSvc,
		transcripts: transcriptRepo,
		review:      review,
		events:      eventBus,
		gateway:     gateway,
		vision:      visionSvc,
		prompts:     promptBuilder,
		raster:      rasterSvc,
		scaler:      scaler,
		cfg:         &cfg.Extraction,
		log:         log.With(logger.Scope("extraction.worker")),
		workerID:    fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
	}
}

// WorkerID returns this process's claim identity.
func (w *ExtractionWorker) WorkerID() string {
	return w.workerID
}

// Start begins the worker's polling loop.
func (w *ExtractionWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	if !w.vision.IsEnabled() {
		w.log.Info("extraction worker not started (no vision provider configured)")
		w.mu.Unlock()
		return nil
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	go w.recoverStaleTasksOnStartup(ctx)

	w.log.Info("extraction worker starting",
		slog.String("worker_id", w.workerID),
		slog.Duration("poll_interval", w.cfg.WorkerInterval()),
		slog.Int("concurrency", w.cfg.WorkerConcurrency))

	w.wg.Add(1)
	go w.run(ctx)

	return nil
}

// Stop gracefully stops the worker, waiting for the current batch to
// complete.
func (w *ExtractionWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.log.Debug("waiting for extraction worker to stop...")

	select {
	case <-w.stoppedCh:
		w.log.Info("extraction worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("extraction worker stop timeout, forcing shutdown")
	}

	return nil
}

// IsRunning reports whether the polling loop is active.
func (w *ExtractionWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Metrics returns the worker's task counters.
func (w *ExtractionWorker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()
	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

// WorkerMetrics counts a worker's processed tasks.
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

func (w *ExtractionWorker) incrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

func (w *ExtractionWorker) incrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

func (w *ExtractionWorker) recoverStaleTasksOnStartup(ctx context.Context) {
	threshold := int(w.cfg.HardDeadline.Minutes())
	recovered, err := w.tasks.RecoverStale(ctx, threshold)
	if err != nil {
		w.log.Warn("failed to recover stale tasks on startup",
			slog.String("error", err.Error()))
		return
	}
	if recovered > 0 {
		w.log.Info("recovered stale extraction tasks on startup",
			slog.Int("count", recovered))
	}
}

// run is the main worker loop.
func (w *ExtractionWorker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.cfg.WorkerInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.log.Warn("process batch failed", slog.String("error", err.Error()))
			}
		}
	}
}

// processBatch claims a prefetch of tasks and fans them out over the
// concurrency budget. The budget follows the health monitor when
// adaptive scaling is on, so a loaded host claims less work.
func (w *ExtractionWorker) processBatch(ctx context.Context) error {
	select {
	case <-w.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	concurrency := w.cfg.WorkerConcurrency
	if w.scaler != nil {
		concurrency = w.scaler.GetConcurrency(w.cfg.WorkerConcurrency)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := w.cfg.PrefetchMultiplier
	if prefetch <= 0 {
		prefetch = 1
	}

	claimed, err := w.tasks.DequeueExtraction(ctx, concurrency*prefetch)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, task := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(t *tasks.ExtractionTask) {
			defer wg.Done()
			defer func() { <-sem }()
			w.processTask(ctx, t)
		}(task)
	}
	wg.Wait()

	return nil
}

// processTask runs one claimed task end to end under the hard deadline.
// Failures never propagate: every exit path settles both the task row
// and the document row.
func (w *ExtractionWorker) processTask(ctx context.Context, task *tasks.ExtractionTask) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.HardDeadline)
	defer cancel()

	ctx, span := tracing.Start(ctx, "extraction.document",
		attribute.String("veridoc.job.id", task.JobID),
		attribute.String("veridoc.document.id", task.DocumentID))
	defer span.End()

	log := w.log.With(
		slog.String("bulk_job_id", task.JobID),
		slog.String("document_id", task.DocumentID))

	job, err := w.jobs.Get(ctx, task.JobID)
	if err != nil {
		if isNotFound(err) {
			// Job deleted after enqueue; nothing left to extract for.
			_ = w.tasks.AbandonExtraction(ctx, task.ID)
			return
		}
		// Leave the task processing; stale recovery re-pends it.
		log.Error("failed to load job for task", logger.Error(err))
		return
	}
	if !job.AcceptsRetries() {
		// Paused or stopped between enqueue and dequeue. Resume
		// recreates tasks for waiting documents, so drop this one.
		if err := w.tasks.AbandonExtraction(ctx, task.ID); err != nil {
			log.Warn("failed to abandon extraction task", logger.Error(err))
		}
		log.Info("extraction task abandoned",
			slog.String("job_status", job.Status))
		return
	}

	doc, err := w.docs.GetByID(ctx, task.DocumentID)
	if err != nil {
		if isNotFound(err) {
			_ = w.tasks.AbandonExtraction(ctx, task.ID)
			return
		}
		log.Error("failed to load document for task", logger.Error(err))
		return
	}

	claimed, err := w.docs.ClaimForProcessing(ctx, doc.ID, w.workerID)
	if err != nil {
		log.Error("failed to claim document", logger.Error(err))
		return
	}
	if !claimed {
		// Another worker owns the document or an earlier run already
		// finished it; the task is spent either way.
		if err := w.tasks.CompleteExtraction(ctx, task.ID); err != nil {
			log.Warn("failed to complete duplicate task", logger.Error(err))
		}
		log.Debug("document not claimable, skipping",
			slog.String("status", doc.Status))
		return
	}

	soft := time.AfterFunc(w.cfg.SoftDeadline, func() {
		log.Warn("document extraction passed soft deadline",
			slog.Duration("soft_deadline", w.cfg.SoftDeadline))
	})
	defer soft.Stop()

	started := time.Now()
	run, err := w.runExtraction(ctx, job, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.settleFailure(ctx, task, doc, err, log)
		return
	}

	if err := w.settleSuccess(ctx, task, job, doc, run, started, log); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.settleFailure(ctx, task, doc, err, log)
	}
}

// pageBatch is one vision call's worth of consecutive pages.
type pageBatch struct {
	start  int
	end    int
	pages  []int
	images [][]byte
}

// batchOutcome is the parsed result of one batch call. A nil err with
// empty fields is legal (a page of pure imagery). Local failures (parse
// errors, permanent provider rejections) are recorded here and cost the
// batch's pages; transient failures propagate out of the errgroup
// instead and retry the whole document.
type batchOutcome struct {
	batch  pageBatch
	root   transcripts.PageExtraction
	fields []*documents.ExtractedField
	tokens int
	err    error
}

// runResult accumulates a successful run for the terminal transition.
type runResult struct {
	fields      []*documents.ExtractedField
	pages       []transcripts.PageExtraction
	totalPages  int
	failedPages []int64
	tokensUsed  int
	visionCalls int
}

// allFailedType distinguishes a document whose every batch failed to
// parse from one the provider rejected outright.
func allFailedType(outcomes []batchOutcome) string {
	for _, out := range outcomes {
		switch {
		case out.err == nil:
		case errors.Is(out.err, errNoJSONObject), errors.Is(out.err, errMalformedJSON):
		case isPermanent(out.err):
			return errTypeOf(out.err)
		default:
			return errTypeVisionRejected
		}
	}
	return errTypeParse
}

// runExtraction performs fetch through flatten. A returned error means
// the run produced nothing usable and the document must retry or fail;
// page-local failures are absorbed into the result instead.
func (w *ExtractionWorker) runExtraction(ctx context.Context, job *bulkjobs.BulkJob, doc *documents.Document) (*runResult, error) {
	_ = w.docs.UpdateStage(ctx, doc.ID, stageFetching)

	src, err := storage.ParseSource(job.SourceConfig)
	if err != nil {
		return nil, permanent(errTypeInvalidSource, err)
	}

	data, err := w.gateway.Fetch(ctx, src, doc.SourcePath)
	if err != nil {
		return nil, classifyFetchError(err)
	}

	totalPages, err := w.raster.PageCount(data)
	if err != nil {
		return nil, permanent(errTypeRasterization, err)
	}
	if err := w.docs.SetTotalPages(ctx, doc.ID, totalPages); err != nil {
		w.log.Warn("failed to record total pages", logger.Error(err))
	}

	w.events.Publish(job.ID, events.NewDocumentStarted(job.ID, doc.ID, doc.Filename, totalPages))

	_ = w.docs.UpdateStage(ctx, doc.ID, stageRasterizing)
	rendered, err := w.raster.Rasterize(ctx, data, raster.Options{})
	if err != nil {
		return nil, permanent(errTypeRasterization, err)
	}
	if len(rendered.Pages) == 0 {
		return nil, permanent(errTypeRasterization,
			fmt.Errorf("no pages rendered out of %d", totalPages))
	}

	res := &runResult{totalPages: totalPages}
	for _, p := range rendered.Failed {
		res.failedPages = append(res.failedPages, int64(p))
	}

	_ = w.docs.UpdateStage(ctx, doc.ID, stageExtracting)
	batches := buildBatches(rendered.Pages, totalPages, w.pageBatchSize())
	outcomes, err := w.dispatchBatches(ctx, job, doc, batches)
	if err != nil {
		return nil, err
	}

	parsed := 0
	for _, out := range outcomes {
		if out.err != nil {
			w.log.Warn("batch produced no fields",
				slog.String("document_id", doc.ID),
				slog.Int("page_start", out.batch.start),
				slog.Int("page_end", out.batch.end),
				logger.Error(out.err))
			for _, p := range out.batch.pages {
				res.failedPages = append(res.failedPages, int64(p))
			}
			continue
		}
		parsed++
		res.fields = append(res.fields, out.fields...)
		res.pages = append(res.pages, out.root)
		res.tokensUsed += out.tokens
	}
	res.visionCalls = len(outcomes)

	if parsed == 0 {
		return nil, permanent(allFailedType(outcomes),
			fmt.Errorf("every page batch failed: %w", outcomes[0].err))
	}

	assignFieldOrder(res.fields)
	for _, f := range res.fields {
		f.JobID = job.ID
		f.DocumentID = doc.ID
	}
	return res, nil
}

func (w *ExtractionWorker) pageBatchSize() int {
	if w.cfg.PageBatchSize > 0 {
		return w.cfg.PageBatchSize
	}
	return 5
}

// buildBatches windows the rendered pages into consecutive groups of
// batchSize, keyed by the document's page numbering so render gaps do
// not shift later batches.
func buildBatches(pages []raster.Page, totalPages, batchSize int) []pageBatch {
	byNumber := make(map[int]raster.Page, len(pages))
	for _, p := range pages {
		byNumber[p.Number] = p
	}

	var batches []pageBatch
	for start := 1; start <= totalPages; start += batchSize {
		end := start + batchSize - 1
		if end > totalPages {
			end = totalPages
		}
		b := pageBatch{start: start, end: end}
		for n := start; n <= end; n++ {
			if p, ok := byNumber[n]; ok {
				b.pages = append(b.pages, n)
				b.images = append(b.images, p.PNG)
			}
		}
		if len(b.pages) > 0 {
			batches = append(batches, b)
		}
	}
	return batches
}

// dispatchBatches fans every batch out to the vision client. Bank
// statements gate on the first batch: its response's _table_headers
// feed the continuation prompts, and absent headers the rest falls back
// to generic. Outcomes come back in batch order.
func (w *ExtractionWorker) dispatchBatches(ctx context.Context, job *bulkjobs.BulkJob, doc *documents.Document, batches []pageBatch) ([]batchOutcome, error) {
	outcomes := make([]batchOutcome, len(batches))
	progress := w.newCheckpointer(job, doc)
	isBank := strings.EqualFold(job.ProcessingOptions.DocumentType, documentTypeBank)

	var headers []string
	rest := batches
	if isBank {
		first := w.extractBatch(ctx, job, doc, batches[0], nil, true)
		if first.err != nil && vision.IsTransient(first.err) {
			return nil, first.err
		}
		outcomes[0] = first
		if first.err == nil {
			headers = tableHeaders(first.root.Root)
			progress.advance(ctx, len(first.batch.pages))
			w.publishFields(job.ID, first.fields)
		}
		rest = batches[1:]
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range rest {
		idx := i
		if isBank {
			idx = i + 1
		}
		g.Go(func() error {
			out := w.extractBatch(gctx, job, doc, b, headers, false)
			if out.err != nil && vision.IsTransient(out.err) {
				return out.err
			}
			outcomes[idx] = out
			if out.err == nil {
				progress.advance(gctx, len(b.pages))
				w.publishFields(job.ID, out.fields)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// extractBatch runs one vision call and flattens its response. For the
// bank first batch the response's own _table_headers drive the
// transactions reconciliation; continuation batches use the page-1
// headers passed in.
func (w *ExtractionWorker) extractBatch(ctx context.Context, job *bulkjobs.BulkJob, doc *documents.Document, b pageBatch, headers []string, firstBank bool) batchOutcome {
	out := batchOutcome{batch: b}

	task := prompts.TaskGeneric
	opts := prompts.Options{
		DocumentType: job.ProcessingOptions.DocumentType,
		PageStart:    b.start,
		PageEnd:      b.end,
	}
	if firstBank {
		task = prompts.TaskBankStatement
	} else if len(headers) > 0 {
		task = prompts.TaskBankStatement
		opts.TableHeaders = headers
	}

	prompt, err := w.prompts.Build(task, prompts.ContentTypeImage, opts)
	if err != nil {
		out.err = permanent(errTypePrompt, err)
		return out
	}

	resp, err := w.vision.Generate(ctx, vision.Request{
		System: prompt.System,
		Prompt: prompt.Text,
		Images: b.images,
	})
	if err != nil {
		out.err = err
		return out
	}
	out.tokens = resp.TokensUsed

	root, err := parseModelJSON(resp.Text)
	if err != nil {
		out.err = err
		return out
	}

	flattenHeaders := headers
	if firstBank {
		flattenHeaders = tableHeaders(root)
	}
	out.root = transcripts.PageExtraction{Page: b.start, Root: root}
	out.fields = flattenFields(root, flattenOptions{
		Page:            b.start,
		TableHeaders:    flattenHeaders,
		ReviewThreshold: w.cfg.ReviewThreshold,
	})
	return out
}

func (w *ExtractionWorker) publishFields(jobID string, fields []*documents.ExtractedField) {
	for _, f := range fields {
		value := ""
		if f.FieldValue != nil {
			value = *f.FieldValue
		}
		w.events.Publish(jobID, events.NewFieldExtracted(jobID, f.FieldName, value, f.Confidence, f.PageNumber))
	}
}

// checkpointer writes page progress every CheckpointInterval pages so
// long documents show movement before the final transition lands.
type checkpointer struct {
	worker   *ExtractionWorker
	docID    string
	interval int

	mu      sync.Mutex
	done    int
	pending int
}

func (w *ExtractionWorker) newCheckpointer(job *bulkjobs.BulkJob, doc *documents.Document) *checkpointer {
	interval := job.ProcessingOptions.CheckpointInterval
	if interval <= 0 {
		interval = w.pageBatchSize()
	}
	return &checkpointer{worker: w, docID: doc.ID, interval: interval}
}

func (c *checkpointer) advance(ctx context.Context, pages int) {
	c.mu.Lock()
	c.done += pages
	c.pending += pages
	flush := c.pending >= c.interval
	if flush {
		c.pending = 0
	}
	done := c.done
	c.mu.Unlock()

	if !flush {
		return
	}
	if err := c.worker.docs.UpdatePagesProcessed(ctx, c.docID, done, nil); err != nil {
		c.worker.log.Debug("checkpoint write failed",
			slog.String("document_id", c.docID),
			slog.String("error", err.Error()))
	}
}

// settleSuccess runs steps 9 through 13: transcript, atomic finalize,
// review routing, progress recount and events.
func (w *ExtractionWorker) settleSuccess(ctx context.Context, task *tasks.ExtractionTask, job *bulkjobs.BulkJob, doc *documents.Document, run *runResult, started time.Time, log *slog.Logger) error {
	_ = w.docs.UpdateStage(ctx, doc.ID, stagePersisting)

	reviewCount := 0
	var confidenceSum float64
	for _, f := range run.fields {
		if f.NeedsManualReview {
			reviewCount++
		}
		confidenceSum += f.Confidence
	}

	status := documents.StatusCompleted
	if reviewCount > 0 {
		status = documents.StatusNeedsReview
	}

	// The transcript lands before the terminal transition; its upsert is
	// idempotent, so a crash between the two just replays the run.
	transcript := transcripts.Build(run.pages)
	transcript.DocumentID = doc.ID
	if err := w.transcripts.Upsert(ctx, transcript); err != nil {
		return fmt.Errorf("persist transcript: %w", err)
	}

	params := documents.FinalizeParams{
		Status:              status,
		PagesProcessed:      run.totalPages - len(run.failedPages),
		TotalPages:          run.totalPages,
		FailedPages:         run.failedPages,
		ExtractionTimeMs:    time.Since(started).Milliseconds(),
		FieldsNeedingReview: reviewCount,
	}
	if run.tokensUsed > 0 || run.visionCalls > 0 {
		params.TokenUsage = map[string]any{
			"total_tokens": run.tokensUsed,
			"vision_calls": run.visionCalls,
		}
	}
	if len(run.fields) > 0 {
		avg := confidenceSum / float64(len(run.fields))
		params.AverageConfidence = &avg
	}
	if err := w.docs.FinalizeExtraction(ctx, doc.ID, run.fields, params); err != nil {
		return fmt.Errorf("finalize extraction: %w", err)
	}

	if status == documents.StatusNeedsReview {
		errType := errTypeFieldsFlagged
		errMsg := fmt.Sprintf("%d of %d fields flagged for manual review", reviewCount, len(run.fields))
		if err := w.review.Enqueue(ctx, &reviewqueue.ReviewQueueItem{
			DocumentID:   doc.ID,
			JobID:        job.ID,
			ErrorMessage: &errMsg,
			ErrorType:    &errType,
			Priority:     doc.Priority,
		}); err != nil {
			log.Warn("failed to enqueue review item", logger.Error(err))
		}
	} else if doc.RetryCount > 0 {
		// A clean rerun closes the review item the earlier run opened.
		if err := w.review.ResolveForDocument(ctx, doc.ID, "resolved by clean re-extraction"); err != nil {
			log.Warn("failed to resolve review item", logger.Error(err))
		}
	}

	if err := w.jobs.RecountProgress(ctx, job.ID); err != nil {
		log.Warn("failed to recount job progress", logger.Error(err))
	}

	docID := doc.ID
	w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
		JobID:      job.ID,
		DocumentID: &docID,
		Stage:      "extraction",
		Message:    "document extraction finished",
		Details: map[string]any{
			"status":       status,
			"fields":       len(run.fields),
			"needs_review": reviewCount,
			"pages":        params.PagesProcessed,
			"duration_ms":  params.ExtractionTimeMs,
			"vision_calls": run.visionCalls,
			"tokens_used":  run.tokensUsed,
		},
	})

	w.events.Publish(job.ID, events.NewDocumentCompleted(job.ID, doc.ID, doc.Filename, len(run.fields), params.ExtractionTimeMs))

	if err := w.tasks.CompleteExtraction(ctx, task.ID); err != nil {
		log.Warn("failed to complete extraction task", logger.Error(err))
	}

	w.incrementSuccess()
	log.Info("document extracted",
		slog.String("status", status),
		slog.Int("fields", len(run.fields)),
		slog.Int("needs_review", reviewCount),
		slog.Int64("duration_ms", params.ExtractionTimeMs))
	return nil
}

// settleFailure routes a run failure: transient errors requeue the
// document with backoff while retry budget remains, everything else is
// terminal.
func (w *ExtractionWorker) settleFailure(ctx context.Context, task *tasks.ExtractionTask, doc *documents.Document, runErr error, log *slog.Logger) {
	w.incrementFailure()

	// Everything not explicitly permanent retries: provider transients,
	// the hard deadline, database blips during persistence. The retry
	// budget bounds the damage when the guess is wrong.
	transient := !isPermanent(runErr)
	msg := runErr.Error()

	if transient && doc.RetryCount < doc.MaxRetries {
		delay := w.tasks.RetryDelay(doc.RetryCount)
		if err := w.docs.RequeueForRetry(ctx, doc.ID, msg); err != nil {
			log.Error("failed to requeue document", logger.Error(err))
		}
		if err := w.tasks.RetryExtraction(ctx, task.ID, doc.RetryCount, msg); err != nil {
			log.Error("failed to reschedule extraction task", logger.Error(err))
		}

		docID := doc.ID
		w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
			JobID:      task.JobID,
			DocumentID: &docID,
			Level:      bulkjobs.LogWarn,
			Stage:      "extraction",
			Message:    "extraction retry scheduled",
			Details: map[string]any{
				"error":       msg,
				"retry_count": doc.RetryCount + 1,
				"max_retries": doc.MaxRetries,
				"delay_sec":   int(delay.Seconds()),
			},
		})
		log.Warn("extraction failed, retry scheduled",
			slog.Int("retry_count", doc.RetryCount+1),
			slog.Duration("delay", delay),
			slog.String("error", msg))
		return
	}

	errType := errTypeOf(runErr)
	if transient {
		errType = errTypeRetriesExhausted
	}
	if err := w.docs.MarkFailed(ctx, doc.ID, msg, errType); err != nil {
		log.Error("failed to mark document failed", logger.Error(err))
	}
	if err := w.tasks.FailExtraction(ctx, task.ID, doc.RetryCount, msg); err != nil {
		log.Error("failed to fail extraction task", logger.Error(err))
	}

	docID := doc.ID
	w.jobs.LogStage(ctx, &bulkjobs.ProcessingLog{
		JobID:      task.JobID,
		DocumentID: &docID,
		Level:      bulkjobs.LogError,
		Stage:      "extraction",
		Message:    "document extraction failed",
		Details: map[string]any{
			"error":      msg,
			"error_type": errType,
		},
	})

	if err := w.jobs.RecountProgress(ctx, task.JobID); err != nil {
		log.Warn("failed to recount job progress", logger.Error(err))
	}

	w.events.Publish(task.JobID, events.NewDocumentFailed(task.JobID, doc.ID, doc.Filename, msg))
}
