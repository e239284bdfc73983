package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rubickcz/smsgate/internal/backend"
	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/repository"
)

const (
	defaultReconcileScanLimit = 500
	defaultReconcileInterval  = time.Minute
)

// Report summarizes one reconciliation pass.
type Report struct {
	// Scanned counts the pending messages fetched this pass.
	Scanned int
	// Updated counts guarded state writes that landed.
	Updated int
	// Unchanged counts scanned messages left as they were.
	Unchanged int
	// Groups counts the distinct backends scanned.
	Groups int
	// Failed counts backend groups whose delivery check failed outright.
	Failed int
}

// Reconciler resolves in-flight messages by querying providers for
// delivery status. Messages in SENDING or UNKNOWN are grouped per
// backend and checked concurrently; a failing backend never blocks the
// others.
type Reconciler struct {
	messages repository.MessageRepository
	logs     repository.DispatchLogRepository
	backends *backend.Registry
	logger   *zap.Logger
	metrics  *observability.Metrics
	limit    int
	now      func() time.Time
}

func NewReconciler(
	messages repository.MessageRepository,
	logs repository.DispatchLogRepository,
	backends *backend.Registry,
	limit int,
	logger *zap.Logger,
) (*Reconciler, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("dispatch log repository is required")
	}
	if backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	if limit <= 0 {
		limit = defaultReconcileScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		messages: messages,
		logs:     logs,
		backends: backends,
		logger:   logger,
		limit:    limit,
		now:      time.Now,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Run executes one reconciliation pass. The returned error joins the
// per-backend failures; the report is valid either way.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pending, err := r.messages.ListPending(ctx, r.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	report := &Report{Scanned: len(pending)}
	if len(pending) == 0 {
		r.metrics.IncReconcileRun(false)
		return report, nil
	}

	pendingPtrs := make([]*domain.Message, len(pending))
	for i := range pending {
		pendingPtrs[i] = &pending[i]
	}

	checkers := make(map[string]backend.DeliveryChecker)
	groups := groupByBackend(pendingPtrs)
	for _, group := range groups {
		adapter, err := r.backends.Get(group.name)
		if err != nil {
			r.logger.Warn("skipping unregistered backend",
				zap.String("backend", group.name),
				zap.Int("messages", len(group.messages)),
			)
			report.Unchanged += len(group.messages)
			continue
		}
		checker, ok := adapter.(backend.DeliveryChecker)
		if !ok {
			r.logger.Debug("backend does not support delivery checks",
				zap.String("backend", group.name),
				zap.Int("messages", len(group.messages)),
			)
			report.Unchanged += len(group.messages)
			continue
		}
		checkers[group.name] = checker
	}
	report.Groups = len(groups)

	var (
		mu        sync.Mutex
		groupErrs []error
	)

	g := new(errgroup.Group)
	for _, group := range groups {
		checker, ok := checkers[group.name]
		if !ok {
			continue
		}
		group := group

		g.Go(func() error {
			updated, err := r.reconcileGroup(ctx, group.name, checker, group.messages)

			mu.Lock()
			defer mu.Unlock()
			report.Updated += updated
			report.Unchanged += len(group.messages) - updated
			if err != nil {
				report.Failed++
				groupErrs = append(groupErrs, fmt.Errorf("backend %s: %w", group.name, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.IncReconcileRun(report.Failed > 0)
	r.logger.Info("reconcile pass completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("groups", report.Groups),
		zap.Int("failedGroups", report.Failed),
	)

	return report, errors.Join(groupErrs...)
}

// Start runs reconciliation passes until context cancellation. Pass
// failures are logged and never stop the loop.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}

	// Run an initial pass so stuck messages do not wait for the first ticker edge.
	if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reconcile pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// reconcileGroup checks one backend's pending messages and applies the
// reported updates. Messages absent from the provider response stay
// untouched.
func (r *Reconciler) reconcileGroup(ctx context.Context, name string, checker backend.DeliveryChecker, messages []*domain.Message) (int, error) {
	batch := make([]domain.Message, len(messages))
	for i := range messages {
		batch[i] = *messages[i]
	}

	updates, err := checker.CheckDelivery(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("delivery check failed: %w", err)
	}

	updated := 0
	for _, update := range updates {
		var errDesc *string
		if update.Error != "" {
			desc := update.Error
			errDesc = &desc
		}

		applied, err := r.messages.ApplyDeliveryUpdate(ctx, update.MessageID, update.State, errDesc, update.Extra)
		if err != nil {
			return updated, fmt.Errorf("failed to apply delivery update for message %s: %w", update.MessageID, err)
		}
		if !applied {
			// Lost the race against a concurrent transition; the guard
			// protected the newer state.
			continue
		}

		updated++
		r.metrics.IncReconcileUpdate(name, update.State.String())
		r.recordCheckLog(ctx, name, update)
	}

	return updated, nil
}

func (r *Reconciler) recordCheckLog(ctx context.Context, backendName string, update backend.DeliveryUpdate) {
	entry := &domain.DispatchLog{
		ID:        uuid.NewString(),
		MessageID: update.MessageID,
		Backend:   backendName,
		Kind:      domain.DispatchLogDeliveryCheck,
		CreatedAt: r.now().UTC(),
	}
	if update.Error != "" {
		desc := update.Error
		entry.Error = &desc
	}
	if status := update.Extra["sender_state"]; status != "" {
		entry.Response = &status
	}

	if err := r.logs.Create(ctx, entry); err != nil {
		r.logger.Warn("failed to record delivery check log",
			zap.String("messageId", update.MessageID),
			zap.Error(err),
		)
	}
}
