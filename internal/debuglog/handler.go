// Package debuglog keeps the most recent log records in memory so that the
// extraction trail of a page can be inspected after the fact.
package debuglog

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const DefaultCapacity = 500

type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      string    `json:"data"`
}

type ring struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	count   int
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = e
		r.count++
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % len(r.entries)
}

func (r *ring) snapshot(reset bool) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	if reset {
		r.start, r.count = 0, 0
	}
	return out
}

// Handler is a slog.Handler that records into a bounded ring and forwards to
// an optional next handler. Handlers derived through WithAttrs and WithGroup
// share the ring of their parent.
type Handler struct {
	ring   *ring
	next   slog.Handler
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

type Options struct {
	Capacity int
	// Level is the minimum level kept in the ring. Defaults to debug.
	Level slog.Leveler
}

func NewHandler(next slog.Handler, opts Options) *Handler {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Level == nil {
		opts.Level = slog.LevelDebug
	}
	return &Handler{
		ring:  &ring{entries: make([]Entry, opts.Capacity)},
		next:  next,
		level: opts.Level,
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		data := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			addAttr(data, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			addAttr(data, h.prefix, a)
			return true
		})

		encoded, err := json.Marshal(data)
		if err != nil {
			encoded = []byte("{}")
		}

		ts := r.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		h.ring.add(Entry{
			Timestamp: ts.UTC(),
			Level:     r.Level.String(),
			Message:   r.Message,
			Data:      string(encoded),
		})
	}

	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

// Entries returns the buffered records, oldest first.
func (h *Handler) Entries() []Entry {
	return h.ring.snapshot(false)
}

// Flush returns the buffered records and empties the ring.
func (h *Handler) Flush() []Entry {
	return h.ring.snapshot(true)
}

func addAttr(data map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(data, groupPrefix, ga)
		}
		return
	}
	key := strings.TrimSuffix(prefix+a.Key, ".")
	switch a.Value.Kind() {
	case slog.KindTime:
		data[key] = a.Value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		data[key] = a.Value.Duration().String()
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[key] = v
	}
}
