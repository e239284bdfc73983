package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rubickcz/smsgate/internal/backend"
	"github.com/rubickcz/smsgate/internal/domain"
	"github.com/rubickcz/smsgate/internal/repository"
)

func TestReconcilerRunAppliesUpdatesAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	pending := []domain.Message{
		{ID: "msg-a", Recipient: "+420777111001", Content: "a", Backend: "opchk", State: domain.StateSending},
		{ID: "msg-b", Recipient: "+420777111002", Content: "b", Backend: "opchk", State: domain.StateUnknown},
		{ID: "msg-c", Recipient: "+420777111003", Content: "c", Backend: "opchk", State: domain.StateSending},
		{ID: "msg-d", Recipient: "+420777111004", Content: "d", Backend: "atschk", State: domain.StateSending},
	}

	type appliedUpdate struct {
		id      string
		state   domain.MessageState
		errDesc *string
	}

	var mu sync.Mutex
	var applied []appliedUpdate
	var logged []domain.DispatchLog

	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			return pending, nil
		},
		applyDeliveryUpdateFn: func(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			applied = append(applied, appliedUpdate{id: id, state: state, errDesc: errDesc})
			return true, nil
		},
	}
	logs := &fakeLogRepo{
		createFn: func(ctx context.Context, l *domain.DispatchLog) error {
			mu.Lock()
			defer mu.Unlock()
			logged = append(logged, *l)
			return nil
		},
	}

	okChecker := &fakeCheckerBackend{
		fakeBackend: fakeBackend{name: "opchk"},
		checkDeliveryFn: func(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error) {
			if len(msgs) != 3 {
				t.Errorf("opchk group size = %d, want 3", len(msgs))
			}
			return []backend.DeliveryUpdate{
				{MessageID: "msg-a", State: domain.StateDelivered, Extra: map[string]string{"sender_state": "0"}},
				{MessageID: "msg-b", State: domain.StateError, Error: "not delivered (status 1)"},
			}, nil
		},
	}
	failingChecker := &fakeCheckerBackend{
		fakeBackend: fakeBackend{name: "atschk"},
		checkDeliveryFn: func(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error) {
			return nil, errors.New("provider unreachable")
		},
	}

	r := newTestReconciler(t, messages, logs, 0, okChecker, failingChecker)

	report, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run() expected a joined error from the failing backend")
	}
	if !strings.Contains(err.Error(), "atschk") {
		t.Fatalf("Run() error = %v, want the failing backend named", err)
	}

	if report.Scanned != 4 || report.Groups != 2 {
		t.Fatalf("report = %+v, want 4 scanned in 2 groups", report)
	}
	if report.Updated != 2 {
		t.Fatalf("report.Updated = %d, want 2", report.Updated)
	}
	if report.Unchanged != 2 {
		t.Fatalf("report.Unchanged = %d, want 2 (absent from response + failed group)", report.Unchanged)
	}
	if report.Failed != 1 {
		t.Fatalf("report.Failed = %d, want 1", report.Failed)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(applied) != 2 {
		t.Fatalf("applied updates = %d, want 2", len(applied))
	}
	byID := make(map[string]appliedUpdate, len(applied))
	for _, u := range applied {
		byID[u.id] = u
	}
	if u := byID["msg-a"]; u.state != domain.StateDelivered || u.errDesc != nil {
		t.Fatalf("msg-a update = %+v, want DELIVERED without error", u)
	}
	if u := byID["msg-b"]; u.state != domain.StateError || u.errDesc == nil {
		t.Fatalf("msg-b update = %+v, want ERROR with description", u)
	}

	if len(logged) != 2 {
		t.Fatalf("delivery check logs = %d, want one per applied update", len(logged))
	}
	for _, entry := range logged {
		if entry.Kind != domain.DispatchLogDeliveryCheck {
			t.Fatalf("log kind = %s, want DELIVERY_CHECK", entry.Kind)
		}
		if entry.MessageID == "msg-a" && (entry.Response == nil || *entry.Response != "0") {
			t.Fatal("msg-a log should carry the provider status")
		}
		if entry.MessageID == "msg-b" && entry.Error == nil {
			t.Fatal("msg-b log should carry the provider error")
		}
	}
}

func TestReconcilerRunSkipsUncheckableBackends(t *testing.T) {
	t.Parallel()

	pending := []domain.Message{
		{ID: "msg-a", Recipient: "+420777111001", Content: "a", Backend: "plain", State: domain.StateSending},
		{ID: "msg-b", Recipient: "+420777111002", Content: "b", Backend: "ghost", State: domain.StateUnknown},
	}

	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			return pending, nil
		},
		applyDeliveryUpdateFn: func(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error) {
			t.Error("no updates should be applied for uncheckable backends")
			return false, nil
		},
	}

	// "plain" registers without delivery check support; "ghost" is never registered.
	r := newTestReconciler(t, messages, &fakeLogRepo{}, 0, &fakeBackend{name: "plain"})

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 2 || report.Groups != 2 {
		t.Fatalf("report = %+v, want 2 scanned in 2 groups", report)
	}
	if report.Updated != 0 || report.Unchanged != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v, want everything unchanged with no failures", report)
	}
}

func TestReconcilerRunGuardMissCountsUnchanged(t *testing.T) {
	t.Parallel()

	pending := []domain.Message{
		{ID: "msg-a", Recipient: "+420777111001", Content: "a", Backend: "opchk", State: domain.StateSending},
	}

	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			return pending, nil
		},
		applyDeliveryUpdateFn: func(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error) {
			// A concurrent transition won the race; the guarded write matched no row.
			return false, nil
		},
	}
	logs := &fakeLogRepo{
		createFn: func(ctx context.Context, l *domain.DispatchLog) error {
			t.Error("no log entry should be written when the update did not land")
			return nil
		},
	}

	checker := &fakeCheckerBackend{
		fakeBackend: fakeBackend{name: "opchk"},
		checkDeliveryFn: func(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error) {
			return []backend.DeliveryUpdate{{MessageID: "msg-a", State: domain.StateDelivered}}, nil
		},
	}

	r := newTestReconciler(t, messages, logs, 0, checker)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Updated != 0 || report.Unchanged != 1 {
		t.Fatalf("report = %+v, want the guarded miss counted as unchanged", report)
	}
}

func TestReconcilerRunEmptyScan(t *testing.T) {
	t.Parallel()

	var gotLimit int
	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			gotLimit = limit
			return nil, nil
		},
	}

	r := newTestReconciler(t, messages, &fakeLogRepo{}, 25)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotLimit != 25 {
		t.Fatalf("scan limit = %d, want 25", gotLimit)
	}
	if report.Scanned != 0 || report.Updated != 0 || report.Groups != 0 {
		t.Fatalf("report = %+v, want an all-zero report", report)
	}
}

func TestReconcilerStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	passes := 0
	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			passes++
			return nil, nil
		},
	}

	r := newTestReconciler(t, messages, &fakeLogRepo{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Start(ctx, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if passes != 1 {
		t.Fatalf("passes = %d, want the initial pass before shutdown", passes)
	}
}

func TestReconcilerStartKeepsLoopingAfterFailedPass(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	passes := 0
	messages := &fakeMessageRepo{
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			passes++
			if passes >= 3 {
				cancel()
			}
			return nil, errors.New("database offline")
		},
	}

	r := newTestReconciler(t, messages, &fakeLogRepo{}, 0)

	if err := r.Start(ctx, 2*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if passes < 3 {
		t.Fatalf("passes = %d, want at least 3 despite failing scans", passes)
	}
}

// Dispatch and reconciliation share the messages table. This runs both
// at once over disjoint rows and checks that every state write lands.
func TestConcurrentSendAndReconcile(t *testing.T) {
	t.Parallel()

	const inflight = 8

	store := make(map[string]domain.Message, 2*inflight)
	var storeMu sync.Mutex
	for i := 0; i < inflight; i++ {
		id := fmt.Sprintf("inflight-%d", i)
		store[id] = domain.Message{
			ID:        id,
			Recipient: fmt.Sprintf("+4207771110%02d", i),
			Content:   "pending",
			Backend:   "opchk",
			State:     domain.StateSending,
		}
	}

	repo := &fakeMessageRepo{
		createFn: func(ctx context.Context, msg *domain.Message) error {
			storeMu.Lock()
			defer storeMu.Unlock()
			store[msg.ID] = *msg
			return nil
		},
		applyPublishResultFn: func(ctx context.Context, id string, update repository.PublishUpdate) error {
			storeMu.Lock()
			defer storeMu.Unlock()
			msg, ok := store[id]
			if !ok {
				return domain.ErrNotFound
			}
			msg.State = update.State
			msg.SentAt = update.SentAt
			store[id] = msg
			return nil
		},
		listPendingFn: func(ctx context.Context, limit int) ([]domain.Message, error) {
			storeMu.Lock()
			defer storeMu.Unlock()
			var pending []domain.Message
			for _, msg := range store {
				if msg.State == domain.StateSending || msg.State == domain.StateUnknown {
					pending = append(pending, msg)
				}
			}
			return pending, nil
		},
		applyDeliveryUpdateFn: func(ctx context.Context, id string, state domain.MessageState, errDesc *string, extra map[string]string) (bool, error) {
			storeMu.Lock()
			defer storeMu.Unlock()
			msg, ok := store[id]
			if !ok || (msg.State != domain.StateSending && msg.State != domain.StateUnknown) {
				return false, nil
			}
			msg.State = state
			store[id] = msg
			return true, nil
		},
	}

	adapter := &fakeBackend{
		name: "fast",
		publishFn: func(ctx context.Context, msg domain.Message) (*backend.SendResult, error) {
			time.Sleep(time.Millisecond) // let the reconcile pass interleave
			return &backend.SendResult{State: domain.StateSent}, nil
		},
	}
	svc := newTestDispatchService(t, repo, &fakeBatchRepo{}, &fakeLogRepo{}, adapter, &fakeLimiter{}, Options{DefaultBackend: "fast"})

	checker := &fakeCheckerBackend{
		fakeBackend: fakeBackend{name: "opchk"},
		checkDeliveryFn: func(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error) {
			updates := make([]backend.DeliveryUpdate, 0, len(msgs))
			for _, msg := range msgs {
				time.Sleep(time.Millisecond)
				updates = append(updates, backend.DeliveryUpdate{MessageID: msg.ID, State: domain.StateDelivered})
			}
			return updates, nil
		},
	}
	r := newTestReconciler(t, repo, &fakeLogRepo{}, 0, checker)

	var (
		wg           sync.WaitGroup
		sendErr      error
		reconcileErr error
		report       *Report
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < inflight; i++ {
			if _, err := svc.Send(context.Background(), SendInput{
				Recipient: fmt.Sprintf("+4207772220%02d", i),
				Content:   "fresh",
			}); err != nil {
				sendErr = err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		report, reconcileErr = r.Run(context.Background())
	}()
	wg.Wait()

	if sendErr != nil {
		t.Fatalf("Send() error = %v", sendErr)
	}
	if reconcileErr != nil {
		t.Fatalf("Run() error = %v", reconcileErr)
	}
	if report.Updated != inflight {
		t.Fatalf("report.Updated = %d, want %d", report.Updated, inflight)
	}

	storeMu.Lock()
	defer storeMu.Unlock()

	if len(store) != 2*inflight {
		t.Fatalf("store size = %d, want %d", len(store), 2*inflight)
	}
	delivered, sent := 0, 0
	for id, msg := range store {
		if strings.HasPrefix(id, "inflight-") {
			if msg.State != domain.StateDelivered {
				t.Errorf("message %s state = %s, want DELIVERED", id, msg.State)
			}
			delivered++
			continue
		}
		if msg.State != domain.StateSent {
			t.Errorf("message %s state = %s, want SENT", id, msg.State)
		}
		if msg.SentAt == nil {
			t.Errorf("message %s has no SentAt", id)
		}
		sent++
	}
	if delivered != inflight || sent != inflight {
		t.Fatalf("delivered = %d, sent = %d, want %d each", delivered, sent, inflight)
	}
}

func newTestReconciler(t *testing.T, messages *fakeMessageRepo, logs *fakeLogRepo, limit int, adapters ...backend.Backend) *Reconciler {
	t.Helper()

	registry := backend.NewRegistry()
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	r, err := NewReconciler(messages, logs, registry, limit, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return r
}

type fakeCheckerBackend struct {
	fakeBackend
	checkDeliveryFn func(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error)
}

func (f *fakeCheckerBackend) CheckDelivery(ctx context.Context, msgs []domain.Message) ([]backend.DeliveryUpdate, error) {
	if f.checkDeliveryFn != nil {
		return f.checkDeliveryFn(ctx, msgs)
	}
	return nil, nil
}
