package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"optionsfi-keeper/internal/alerts"
	"optionsfi-keeper/internal/keeper"
	"optionsfi-keeper/internal/settle"
	"optionsfi-keeper/internal/solvency"

	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) audits(t *testing.T) []operatorAuditEvent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []operatorAuditEvent
	for key, val := range m.data {
		if !strings.HasPrefix(key, "ops:audit:") {
			continue
		}
		var ev operatorAuditEvent
		if err := json.Unmarshal([]byte(val), &ev); err != nil {
			t.Fatalf("decode audit: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

type stubRunner struct {
	report keeper.Report
	err    error
}

func (s stubRunner) Run(ctx context.Context, v keeper.Vault) (keeper.Report, error) {
	r := s.report
	r.AssetID = v.AssetID
	return r, s.err
}

type stubReconciler struct {
	report solvency.Report
	err    error
}

// Reconcile behaves as with auto reconcile disabled: the shortfall is
// reported but no transfer is made.
func (s stubReconciler) Reconcile(ctx context.Context, assetID string) (solvency.Report, error) {
	r := s.report
	r.Signature = ""
	return r, s.err
}

func (s stubReconciler) Fix(ctx context.Context, assetID string) (solvency.Report, error) {
	return s.report, s.err
}

type stubSettleRunner struct {
	stubRunner
	result settle.ExpiryResult
	err    error
}

func (s stubSettleRunner) SettleExpiry(ctx context.Context, v keeper.Vault) (settle.ExpiryResult, error) {
	r := s.result
	r.AssetID = v.AssetID
	return r, s.err
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeTelegram) Send(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeTelegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error) {
	return nil, errors.New("not implemented")
}

func newTestApp(runner keeper.Runner, reconciler keeper.Reconciler) (*App, *memoryStore) {
	store := &memoryStore{data: make(map[string]string)}
	scheduler := keeper.NewScheduler([]keeper.Vault{{AssetID: "NVDAx"}}, nil, runner, reconciler, nil, nil, nil, nil, keeper.SchedulerOptions{}, nil)
	return &App{log: zap.NewNop(), store: store, scheduler: scheduler}, store
}

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/reconcile NVDAx")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != "reconcile" {
		t.Fatalf("expected reconcile, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "NVDAx" {
		t.Fatalf("unexpected args: %v", args)
	}
	if cmd, _, _ := parseOperatorCommand("/Status@keeper_bot"); cmd != "status" {
		t.Fatalf("expected bot suffix stripped, got %s", cmd)
	}
	if _, _, ok := parseOperatorCommand("hello"); ok {
		t.Fatalf("expected plain text ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	app, store := newTestApp(stubRunner{}, nil)
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := app.handleOperatorCommand(context.Background(), "pause", nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if !strings.HasPrefix(resp, "keeper paused") {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !app.scheduler.Runtime().Paused() {
		t.Fatalf("expected paused")
	}

	meta.Raw = "/resume"
	resp, err = app.handleOperatorCommand(context.Background(), "resume", nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if resp != "keeper resumed" {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if app.scheduler.Runtime().Paused() {
		t.Fatalf("expected resumed")
	}
	if got := len(store.audits(t)); got != 2 {
		t.Fatalf("expected 2 audit events, got %d", got)
	}
}

func TestOperatorReconcile(t *testing.T) {
	reconciler := stubReconciler{report: solvency.Report{Recorded: 1000, Actual: 700, Shortfall: 300, Signature: "tx-1"}}
	app, store := newTestApp(stubRunner{}, reconciler)
	resp, err := app.handleOperatorCommand(context.Background(), "reconcile", []string{"NVDAx"}, operatorMeta{Raw: "/reconcile NVDAx"})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !strings.Contains(resp, "shortfall=300") || !strings.Contains(resp, "repaired tx-1") {
		t.Fatalf("unexpected response %q", resp)
	}
	audits := store.audits(t)
	if len(audits) != 1 || audits[0].AssetID != "NVDAx" || audits[0].Action != "reconcile" {
		t.Fatalf("unexpected audits %+v", audits)
	}
	if _, err := app.handleOperatorCommand(context.Background(), "reconcile", nil, operatorMeta{}); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestOperatorStatus(t *testing.T) {
	app, _ := newTestApp(stubRunner{report: keeper.Report{Outcome: keeper.OutcomeNoFill, Epoch: 4}}, nil)
	if _, err := app.scheduler.Trigger(context.Background(), "NVDAx"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	status := app.operatorStatus()
	if !strings.Contains(status, "paused: false") || !strings.Contains(status, "NVDAx: epoch=4 last=no_fill") {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestOperatorUpdateFiltersChatAndUser(t *testing.T) {
	app, _ := newTestApp(stubRunner{}, nil)
	tg := &fakeTelegram{}
	app.alerts = tg
	allowed := map[int64]struct{}{7: {}}
	upd := func(chat, user int64) alerts.Update {
		return alerts.Update{UpdateID: 1, Message: &alerts.Message{Text: "/help", Chat: &alerts.Chat{ID: chat}, From: &alerts.User{ID: user}}}
	}
	app.handleOperatorUpdate(context.Background(), upd(99, 7), 123, allowed)
	app.handleOperatorUpdate(context.Background(), upd(123, 8), 123, allowed)
	if len(tg.sent) != 0 {
		t.Fatalf("expected foreign chat and user ignored, got %v", tg.sent)
	}
	app.handleOperatorUpdate(context.Background(), upd(123, 7), 123, allowed)
	if len(tg.sent) != 1 || !strings.HasPrefix(tg.sent[0], "commands:") {
		t.Fatalf("expected help reply, got %v", tg.sent)
	}
}

func TestOperatorOffsetPersistence(t *testing.T) {
	app, _ := newTestApp(stubRunner{}, nil)
	if got := app.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	app.saveOperatorOffset(context.Background(), 43)
	if got := app.loadOperatorOffset(context.Background()); got != 43 {
		t.Fatalf("expected 43, got %d", got)
	}
}

func TestOperatorSettle(t *testing.T) {
	runner := stubSettleRunner{result: settle.ExpiryResult{Epoch: 4, InTheMoney: true, Payoff: 333_333, Settled: true, Signature: "sig-9"}}
	app, store := newTestApp(runner, nil)
	resp, err := app.handleOperatorCommand(context.Background(), "settle", []string{"NVDAx"}, operatorMeta{Raw: "/settle NVDAx"})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !strings.Contains(resp, "epoch 4 settled itm=true payoff=333333") || !strings.HasSuffix(resp, "sig-9") {
		t.Fatalf("unexpected response %q", resp)
	}
	audits := store.audits(t)
	if len(audits) != 1 || audits[0].Action != "settle" {
		t.Fatalf("unexpected audits %+v", audits)
	}
	if _, err := app.handleOperatorCommand(context.Background(), "settle", nil, operatorMeta{}); err == nil {
		t.Fatalf("expected usage error")
	}
}
