package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/romaneios/internal/jobs"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/logging"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
)

// Job names used for run metrics.
const (
	JobVerifyAll = "romaneio_verify_all"
	JobVerifyOne = "romaneio_verify_one"
)

// Detail is one line of a run summary.
type Detail struct {
	RomaneioID    int64   `json:"romaneio_id"`
	PurchaseOrder string  `json:"purchase_order"`
	Outcome       Outcome `json:"outcome"`
	Message       string  `json:"message"`
}

// Summary aggregates one batch run.
type Summary struct {
	RunID                string        `json:"run_id"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
	Total                int           `json:"total"`
	Matched              int           `json:"matched"`
	DivergentRetry       int           `json:"divergent_retry"`
	MaxAttemptsExhausted int           `json:"max_attempts_exhausted"`
	AwaitingCount        int           `json:"awaiting_count"`
	NoData               int           `json:"no_data"`
	NotEligible          int           `json:"not_eligible"`
	Skipped              int           `json:"skipped"`
	Errors               int           `json:"errors"`
	Cancelled            bool          `json:"cancelled"`
	Details              []Detail      `json:"details"`
}

func (s *Summary) add(res Result) {
	s.Total++
	switch res.Outcome {
	case OutcomeMatched:
		s.Matched++
	case OutcomeDivergentRetry:
		s.DivergentRetry++
	case OutcomeMaxAttemptsExhausted:
		s.MaxAttemptsExhausted++
	case OutcomeAwaitingCount:
		s.AwaitingCount++
	case OutcomeNoData:
		s.NoData++
	case OutcomeNotEligible:
		s.NotEligible++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	}
	s.Details = append(s.Details, Detail{
		RomaneioID:    res.RomaneioID,
		PurchaseOrder: res.PurchaseOrder,
		Outcome:       res.Outcome,
		Message:       res.Message,
	})
}

// ErrorDetails returns the detail lines of failed records.
func (s Summary) ErrorDetails() []Detail {
	var out []Detail
	for _, d := range s.Details {
		if d.Outcome == OutcomeError {
			out = append(out, d)
		}
	}
	return out
}

// Orchestrator runs the engine over every non-finalized romaneio.
type Orchestrator struct {
	store       romaneio.Store
	engine      *Engine
	concurrency int
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator constructs the batch runner. A concurrency of 1 verifies records in sequence.
func NewOrchestrator(store romaneio.Store, engine *Engine, concurrency int, metrics *jobmetrics.Metrics, logger *slog.Logger) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		engine:      engine,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunAll verifies every eligible record. One record's failure never stops the
// others. Cancellation is honoured between records; records already inside
// the engine finish or roll back.
func (o *Orchestrator) RunAll(ctx context.Context) (Summary, error) {
	tracker := o.metrics.Track(JobVerifyAll)
	summary := Summary{RunID: uuid.NewString(), StartedAt: o.now()}
	logger := o.logger.With(slog.String("run_id", summary.RunID))
	ctx = logging.WithLogger(ctx, logger)

	records, err := o.store.ListEligible(ctx)
	if err != nil {
		summary.Duration = o.now().Sub(summary.StartedAt)
		return summary, tracker.End(err)
	}
	logger.Info("verification run started", slog.Int("records", len(records)), slog.Int("concurrency", o.concurrency))

	var (
		mu      sync.Mutex
		results = make([]*Result, len(records))
	)
	group := &errgroup.Group{}
	group.SetLimit(o.concurrency)
	for i, record := range records {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Cancelled = true
			mu.Unlock()
			break
		}
		group.Go(func() error {
			// Re-check once a slot frees up.
			if ctx.Err() != nil {
				mu.Lock()
				summary.Cancelled = true
				mu.Unlock()
				return nil
			}
			res, err := o.engine.Verify(ctx, record.ID)
			if err != nil && !errors.Is(err, locks.ErrBusy) {
				logger.Error("record failed", slog.String("purchase_order", record.PurchaseOrder), slog.Any("error", err))
			}
			if res.PurchaseOrder == "" {
				res.PurchaseOrder = record.PurchaseOrder
			}
			mu.Lock()
			results[i] = &res
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	for _, res := range results {
		if res != nil {
			summary.add(*res)
		}
	}
	summary.Duration = o.now().Sub(summary.StartedAt)
	logger.Info("verification run finished",
		slog.Duration("duration", summary.Duration),
		slog.Int("total", summary.Total),
		slog.Int("matched", summary.Matched),
		slog.Int("divergent_retry", summary.DivergentRetry),
		slog.Int("max_attempts_exhausted", summary.MaxAttemptsExhausted),
		slog.Int("awaiting_count", summary.AwaitingCount),
		slog.Int("no_data", summary.NoData),
		slog.Int("not_eligible", summary.NotEligible),
		slog.Int("skipped", summary.Skipped),
		slog.Int("errors", summary.Errors),
		slog.Bool("cancelled", summary.Cancelled),
	)
	return summary, tracker.End(nil)
}

// RunOne verifies a single record on demand.
func (o *Orchestrator) RunOne(ctx context.Context, id int64) (Result, error) {
	tracker := o.metrics.Track(JobVerifyOne)
	logger := o.logger.With(slog.String("run_id", uuid.NewString()))
	res, err := o.engine.Verify(logging.WithLogger(ctx, logger), id)
	return res, tracker.End(err)
}
