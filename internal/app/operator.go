package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"optionsfi-keeper/internal/alerts"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	AssetID      string    `json:"asset_id,omitempty"`
	Result       string    `json:"result,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address bots as /cmd@botname.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "pause":
		before := a.scheduler.Runtime().SetPaused(true)
		a.auditOperatorEvent(ctx, a.auditFor(meta, "pause", before, true))
		if !before {
			return "keeper paused: roll ticks skipped, reconciliation continues", nil
		}
		return "keeper already paused", nil
	case "resume":
		before := a.scheduler.Runtime().SetPaused(false)
		a.auditOperatorEvent(ctx, a.auditFor(meta, "resume", before, false))
		if before {
			return "keeper resumed", nil
		}
		return "keeper already active", nil
	case "reconcile":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: /reconcile <asset>")
		}
		asset := args[0]
		report, err := a.scheduler.Repair(ctx, asset)
		event := a.auditFor(meta, "reconcile", a.scheduler.Runtime().Paused(), a.scheduler.Runtime().Paused())
		event.AssetID = asset
		if err != nil {
			event.Result = err.Error()
			a.auditOperatorEvent(ctx, event)
			return "", err
		}
		result := fmt.Sprintf("%s recorded=%d actual=%d shortfall=%d", asset, report.Recorded, report.Actual, report.Shortfall)
		switch {
		case report.Healthy:
			result += " healthy"
		case report.Signature != "":
			result += " repaired " + report.Signature
		case report.RateLimited:
			result += " transfer rate limited"
		default:
			result += " not repaired"
		}
		event.Result = result
		a.auditOperatorEvent(ctx, event)
		return result, nil
	case "settle":
		if len(args) == 0 {
			return "", fmt.Errorf("usage: /settle <asset>")
		}
		asset := args[0]
		res, err := a.scheduler.Settle(ctx, asset)
		event := a.auditFor(meta, "settle", a.scheduler.Runtime().Paused(), a.scheduler.Runtime().Paused())
		event.AssetID = asset
		if err != nil {
			event.Result = err.Error()
			a.auditOperatorEvent(ctx, event)
			return "", err
		}
		result := fmt.Sprintf("%s epoch %d settled itm=%t payoff=%d net_premium=%d", asset, res.Epoch, res.InTheMoney, res.Payoff, res.NetPremium)
		if res.Signature != "" {
			result += " " + res.Signature
		}
		event.Result = result
		a.auditOperatorEvent(ctx, event)
		return result, nil
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) auditFor(meta operatorMeta, action string, before, after bool) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  after,
	}
}

func (a *App) operatorStatus() string {
	lines := []string{fmt.Sprintf("paused: %t", a.scheduler.Runtime().Paused())}
	for _, h := range a.scheduler.Status() {
		lastRun := "n/a"
		if !h.LastRun.IsZero() {
			lastRun = h.LastRun.UTC().Format(time.RFC3339)
		}
		line := fmt.Sprintf("%s: epoch=%d last=%s at %s failures=%d degraded=%t insolvent=%t",
			h.AssetID, h.LastEpoch, orNA(string(h.LastOutcome)), lastRun, h.ConsecutiveFailures, h.Degraded, h.Insolvent)
		if h.LastError != "" {
			line += " error=" + h.LastError
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - per-vault keeper status",
		"/pause - stop launching epoch rolls",
		"/resume - resume epoch rolls",
		"/reconcile <asset> - check and repair the vault premium balance",
		"/settle <asset> - settle the expired option of a vault",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
