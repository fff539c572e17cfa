package contention

import (
	"context"
	"log/slog"
)

// Sink receives contention events. Emit may be called concurrently.
type Sink interface {
	Emit(e Event)
}

// NopSink discards events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// SlogSink writes each event as one structured record at Info level.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink creates a SlogSink. A nil logger means slog.Default().
func NewSlogSink(l *slog.Logger) *SlogSink {
	if l == nil {
		l = slog.Default()
	}
	return &SlogSink{Logger: l}
}

// Emit implements Sink.
func (s *SlogSink) Emit(e Event) {
	s.Logger.LogAttrs(context.Background(), slog.LevelInfo, "lock contention",
		slog.String("process", e.ProcessName),
		slog.Bool("sensitive", e.Sensitive),
		slog.String("thread", e.ThreadName),
		slog.Int64("wait_ms", e.Wait.Milliseconds()),
		slog.String("file", e.Location.File),
		slog.Int("line", e.Location.Line),
		slog.String("owner_file", e.OwnerLocation.File),
		slog.Int("owner_line", e.OwnerLocation.Line),
		slog.Int("sample_percent", e.SamplePercent),
	)
}

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) {
	f(e)
}
