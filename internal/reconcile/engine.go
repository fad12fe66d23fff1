// Package reconcile confirms locally recorded invoice quantities against the
// counts reported by the inventory system.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/romaneios/internal/inventory"
	jobmetrics "github.com/odyssey-erp/romaneios/internal/jobs"
	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/logging"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
	"github.com/odyssey-erp/romaneios/internal/shared"
)

// Outcome is the decision reached for one romaneio.
type Outcome string

const (
	OutcomeMatched              Outcome = "matched"
	OutcomeDivergentRetry       Outcome = "divergent_retry"
	OutcomeMaxAttemptsExhausted Outcome = "max_attempts_exhausted"
	OutcomeAwaitingCount        Outcome = "awaiting_count"
	OutcomeNoData               Outcome = "no_data"
	OutcomeNotEligible          Outcome = "not_eligible"
	OutcomeSkipped              Outcome = "skipped"
	OutcomeError                Outcome = "error"
)

// Result describes one verification.
type Result struct {
	RomaneioID    int64
	PurchaseOrder string
	Outcome       Outcome
	Status        romaneio.Status
	Attempt       int
	Divergent     []romaneio.Item
	Message       string
}

// Engine verifies one romaneio at a time. All local writes of a verification
// commit together or not at all.
type Engine struct {
	store       romaneio.Store
	gateway     inventory.Gateway
	locker      locks.Locker
	maxAttempts int
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMetrics records one verification counter per outcome.
func WithMetrics(metrics *jobmetrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine constructs the reconciliation engine.
func NewEngine(store romaneio.Store, gateway inventory.Gateway, locker locks.Locker, maxAttempts int, logger *slog.Logger, opts ...EngineOption) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if locker == nil {
		locker = locks.NewLocal()
	}
	e := &Engine{
		store:       store,
		gateway:     gateway,
		locker:      locker,
		maxAttempts: maxAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the retry budget per romaneio.
func (e *Engine) MaxAttempts() int { return e.maxAttempts }

// Verify reconciles one romaneio. It returns locks.ErrBusy with OutcomeSkipped
// when another caller holds the record. Remote and storage failures are
// recorded as a verification_error log and returned.
func (e *Engine) Verify(ctx context.Context, id int64) (Result, error) {
	logger := logging.FromContext(ctx, e.logger).With(slog.Int64("romaneio_id", id))

	release, err := e.locker.Acquire(ctx, shared.RomaneioLockKey(id))
	if err != nil {
		if errors.Is(err, locks.ErrBusy) {
			logger.Info("verification skipped, record busy")
			e.observe(OutcomeSkipped)
			return Result{RomaneioID: id, Outcome: OutcomeSkipped, Message: "verification already running"}, err
		}
		return Result{RomaneioID: id, Outcome: OutcomeError, Message: err.Error()}, err
	}
	defer release()

	record, err := e.store.Get(ctx, id)
	if err != nil {
		return Result{RomaneioID: id, Outcome: OutcomeError, Message: err.Error()}, err
	}
	logger = logger.With(slog.String("purchase_order", record.PurchaseOrder))

	res, err := e.verify(ctx, logger, record)
	if err != nil {
		e.recordFailure(ctx, logger, record, err)
		e.observe(OutcomeError)
		return Result{
			RomaneioID:    record.ID,
			PurchaseOrder: record.PurchaseOrder,
			Outcome:       OutcomeError,
			Status:        record.Status,
			Attempt:       record.AttemptCount,
			Message:       err.Error(),
		}, fmt.Errorf("reconcile: verify %s: %w", record.PurchaseOrder, err)
	}
	e.observe(res.Outcome)
	logger.Info("verification finished",
		slog.String("outcome", string(res.Outcome)),
		slog.Int("attempt", res.Attempt),
		slog.String("status", string(res.Status)),
	)
	return res, nil
}

func (e *Engine) verify(ctx context.Context, logger *slog.Logger, record romaneio.Romaneio) (Result, error) {
	result := Result{
		RomaneioID:    record.ID,
		PurchaseOrder: record.PurchaseOrder,
		Status:        record.Status,
		Attempt:       record.AttemptCount,
	}
	if !record.CanVerify(e.maxAttempts) {
		result.Outcome = OutcomeNotEligible
		result.Message = fmt.Sprintf("not eligible (status %s, attempts %d/%d)", record.Status.Label(), record.AttemptCount, e.maxAttempts)
		return result, nil
	}

	receipt, err := e.gateway.FetchItems(ctx, record.PurchaseOrder)
	if err != nil {
		return Result{}, err
	}
	if receipt == nil || len(receipt.Items) == 0 {
		result.Outcome = OutcomeNoData
		result.Message = "inventory system returned no data"
		return result, nil
	}

	remote := romaneio.RemoteItems(receipt.Items)
	uncounted := 0
	for _, item := range remote {
		if !item.Counted() {
			uncounted++
			logger.Debug("item not counted yet", slog.String("code", item.Code))
		}
	}

	var externalID *int64
	err = e.store.WithTx(ctx, func(ctx context.Context, tx romaneio.TxStore) error {
		current, err := tx.LockRomaneio(ctx, record.ID)
		if err != nil {
			return err
		}
		result.Status = current.Status
		result.Attempt = current.AttemptCount
		// The record may have changed between the read and the lock.
		if !current.CanVerify(e.maxAttempts) {
			result.Outcome = OutcomeNotEligible
			result.Message = fmt.Sprintf("not eligible (status %s, attempts %d/%d)", current.Status.Label(), current.AttemptCount, e.maxAttempts)
			return nil
		}

		local, err := tx.Items(ctx, current.ID)
		if err != nil {
			return err
		}
		now := e.now()
		merge := romaneio.MergeItems(current.ID, local, remote, now)
		if err := romaneio.SaveMerge(ctx, tx, merge); err != nil {
			return err
		}
		logger.Debug("items merged", slog.Int("updated", len(merge.Updated)), slog.Int("inserted", len(merge.Inserted)))

		if current.ExternalID == nil && receipt.ExternalID != nil {
			id := *receipt.ExternalID
			current.ExternalID = &id
		}
		current.UpdatedAt = now
		externalID = current.ExternalID

		if uncounted > 0 {
			result.Outcome = OutcomeAwaitingCount
			result.Message = fmt.Sprintf("%d item(s) not counted yet", uncounted)
			return tx.UpdateRomaneio(ctx, current)
		}

		current.AttemptCount++
		attempt := current.AttemptCount
		previous := current.Status
		result.Attempt = attempt

		if romaneio.Matched(merge.Items) {
			current.Status = romaneio.StatusOpen
			if err := tx.UpdateRomaneio(ctx, current); err != nil {
				return err
			}
			result.Outcome = OutcomeMatched
			result.Status = current.Status
			result.Message = fmt.Sprintf("updated to %s (attempt %d)", current.Status.Label(), attempt)
			return e.insertLog(ctx, tx, current, romaneio.ActionVerified, previous, attempt, romaneio.MatchedDetails(current.Status), now)
		}

		divergent := romaneio.Divergent(merge.Items)
		result.Divergent = divergent
		if err := tx.UpdateRomaneio(ctx, current); err != nil {
			return err
		}
		if attempt >= e.maxAttempts {
			result.Outcome = OutcomeMaxAttemptsExhausted
			result.Message = fmt.Sprintf("maximum attempts reached, %d divergence(s) (attempt %d/%d)", len(divergent), attempt, e.maxAttempts)
			return e.insertLog(ctx, tx, current, romaneio.ActionMaxAttemptsReached, previous, attempt, romaneio.MaxAttemptsDetails(attempt, divergent), now)
		}
		result.Outcome = OutcomeDivergentRetry
		result.Message = fmt.Sprintf("kept %s, %d divergence(s) (attempt %d/%d)", current.Status.Label(), len(divergent), attempt, e.maxAttempts)
		return e.insertLog(ctx, tx, current, romaneio.ActionVerified, previous, attempt, romaneio.DivergenceDetails(divergent), now)
	})
	if err != nil {
		return Result{}, err
	}

	if result.Outcome == OutcomeMatched {
		e.pushStatus(ctx, logger, externalID, result.Status)
	}
	return result, nil
}

func (e *Engine) insertLog(ctx context.Context, tx romaneio.TxStore, r romaneio.Romaneio, action romaneio.Action, previous romaneio.Status, attempt int, details string, at time.Time) error {
	next := r.Status
	_, err := tx.InsertLog(ctx, romaneio.Log{
		RomaneioID:     r.ID,
		Action:         action,
		PreviousStatus: &previous,
		NewStatus:      &next,
		Attempt:        &attempt,
		Details:        details,
		At:             at,
	})
	return err
}

// pushStatus informs the inventory system after commit. Local state stays
// authoritative when the push fails.
func (e *Engine) pushStatus(ctx context.Context, logger *slog.Logger, externalID *int64, status romaneio.Status) {
	if externalID == nil {
		logger.Debug("no external id, status push skipped")
		return
	}
	if err := e.gateway.UpdateStatus(ctx, *externalID, status.RemoteCode()); err != nil {
		logger.Warn("push status to inventory system", slog.Int64("external_id", *externalID), slog.Any("error", err))
	}
}

func (e *Engine) recordFailure(ctx context.Context, logger *slog.Logger, record romaneio.Romaneio, cause error) {
	logger.Error("verification failed", slog.Int("attempt", record.AttemptCount), slog.Any("error", cause))
	attempt := record.AttemptCount
	_, err := e.store.AppendLog(context.WithoutCancel(ctx), romaneio.Log{
		RomaneioID: record.ID,
		Action:     romaneio.ActionVerificationError,
		Attempt:    &attempt,
		Details:    "Verification error: " + cause.Error(),
		At:         e.now(),
	})
	if err != nil {
		logger.Error("record verification error", slog.Any("error", err))
	}
}

func (e *Engine) observe(outcome Outcome) {
	e.metrics.ObserveVerification(string(outcome))
}
