// Package events fans lifecycle events out to the log, the audit store,
// Redis and the notifier.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// Channel is the Redis pub/sub channel lifecycle events are published on.
	Channel = "copybot:events"
	// Stream is the Redis stream lifecycle events are appended to.
	Stream = "copybot:events:stream"

	sinkTimeout  = 3 * time.Second
	recentEvents = 200
)

// DefaultNotifyEvents are forwarded to the notifier unless configured
// otherwise.
var DefaultNotifyEvents = []string{
	string(domain.EventOrderDeadLettered),
	string(domain.EventCircuitOpened),
	string(domain.EventCircuitClosed),
}

// Emitter receives lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, ev domain.LifecycleEvent)
}

// Notifier delivers operator alerts. notify.Notifier implements it and does
// its own per-event filtering.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Bus is an Emitter that writes every event to each configured sink. Sink
// failures are logged and never reach the caller. Configure sinks before the
// first Emit.
type Bus struct {
	logger   *slog.Logger
	audit    domain.AuditStore
	signals  domain.SignalBus
	notifier Notifier

	mu     sync.Mutex
	recent []domain.LifecycleEvent
	next   int
	full   bool
}

var _ Emitter = (*Bus)(nil)

// NewBus creates a Bus that only logs.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With(slog.String("component", "events")),
		recent: make([]domain.LifecycleEvent, recentEvents),
	}
}

// SetAuditStore appends every event to the audit log.
func (b *Bus) SetAuditStore(s domain.AuditStore) { b.audit = s }

// SetSignalBus publishes every event to Channel and appends it to Stream.
func (b *Bus) SetSignalBus(s domain.SignalBus) { b.signals = s }

// SetNotifier forwards events to operators.
func (b *Bus) SetNotifier(n Notifier) { b.notifier = n }

// Emit implements Emitter.
func (b *Bus) Emit(ctx context.Context, ev domain.LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.remember(ev)
	b.log(ctx, ev)

	if b.audit != nil {
		b.sink(ctx, "audit", func(ctx context.Context) error {
			return b.audit.Log(ctx, string(ev.Type), Detail(ev))
		})
	}

	if b.signals != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			b.logger.ErrorContext(ctx, "marshal event failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		} else {
			b.sink(ctx, "publish", func(ctx context.Context) error {
				return b.signals.Publish(ctx, Channel, payload)
			})
			b.sink(ctx, "stream", func(ctx context.Context) error {
				return b.signals.StreamAppend(ctx, Stream, payload)
			})
		}
	}

	if b.notifier != nil {
		b.sink(ctx, "notify", func(ctx context.Context) error {
			return b.notifier.Notify(ctx, string(ev.Type), Title(ev), Message(ev))
		})
	}
}

func (b *Bus) sink(ctx context.Context, name string, fn func(context.Context) error) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := fn(sinkCtx); err != nil {
		b.logger.WarnContext(ctx, "event sink failed",
			slog.String("sink", name),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bus) log(ctx context.Context, ev domain.LifecycleEvent) {
	attrs := []slog.Attr{slog.String("type", string(ev.Type))}
	if ev.Trade != nil {
		attrs = append(attrs,
			slog.String("trade_id", ev.Trade.ID),
			slog.String("market", ev.Trade.Market),
		)
	}
	if ev.OrderID != "" {
		attrs = append(attrs, slog.String("order_id", ev.OrderID))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	b.logger.LogAttrs(ctx, level(ev.Type), "lifecycle event", attrs...)
}

func level(t domain.EventType) slog.Level {
	switch t {
	case domain.EventOrderFailed, domain.EventOrderDeadLettered, domain.EventCircuitOpened:
		return slog.LevelWarn
	case domain.EventTradeDetected:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func (b *Bus) remember(ev domain.LifecycleEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent[b.next] = ev
	b.next = (b.next + 1) % len(b.recent)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to n of the latest events, newest first.
func (b *Bus) Recent(n int) []domain.LifecycleEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.recent)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.LifecycleEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.next - i + len(b.recent)) % len(b.recent)
		out = append(out, b.recent[idx])
	}
	return out
}

// Detail flattens an event into the audit log's JSON detail.
func Detail(ev domain.LifecycleEvent) map[string]any {
	d := make(map[string]any, len(ev.Detail)+8)
	for k, v := range ev.Detail {
		d[k] = v
	}
	if ev.OrderID != "" {
		d["order_id"] = ev.OrderID
	}
	if ev.Reason != "" {
		d["reason"] = ev.Reason
	}
	if t := ev.Trade; t != nil {
		d["trade_id"] = t.ID
		d["trader"] = t.TraderAddress
		d["market"] = t.Market
		d["side"] = string(t.Side)
		d["price"] = t.Price.String()
		d["size"] = t.Size.String()
		d["tx_hash"] = t.TxHash
	}
	d["at"] = ev.At.Format(time.RFC3339Nano)
	return d
}

// Title is the notification title for ev.
func Title(ev domain.LifecycleEvent) string {
	return "copybot: " + strings.ReplaceAll(string(ev.Type), "_", " ")
}

// Message is the notification body for ev.
func Message(ev domain.LifecycleEvent) string {
	var sb strings.Builder
	if t := ev.Trade; t != nil {
		fmt.Fprintf(&sb, "%s %s %s @ %s (trade %s)\n", t.Side, t.Size, t.Market, t.Price, t.ID)
	}
	if ev.OrderID != "" {
		fmt.Fprintf(&sb, "order: %s\n", ev.OrderID)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&sb, "reason: %s\n", ev.Reason)
	}
	if sb.Len() == 0 {
		sb.WriteString(ev.At.Format(time.RFC3339))
	}
	return strings.TrimRight(sb.String(), "\n")
}
