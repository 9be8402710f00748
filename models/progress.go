package models

import "time"

// Progress is one structured progress event of a long-running operation.
type Progress struct {
	Operation  string    `json:"operation,omitempty"`
	Stage      string    `json:"stage"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"total_steps"`
	Percentage int       `json:"percentage"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressSink receives progress events. Implementations must not block for
// long; producers call Report synchronously.
type ProgressSink interface {
	Report(Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Progress)

// Report implements ProgressSink.
func (f ProgressFunc) Report(p Progress) { f(p) }

// ChannelSink forwards events to a channel, dropping them when it is full.
type ChannelSink chan Progress

// Report implements ProgressSink.
func (c ChannelSink) Report(p Progress) {
	select {
	case c <- p:
	default:
	}
}

// Discard is a sink that ignores every event.
var Discard ProgressSink = ProgressFunc(func(Progress) {})

// SinkOrDiscard returns s, or Discard when s is nil.
func SinkOrDiscard(s ProgressSink) ProgressSink {
	if s == nil {
		return Discard
	}
	return s
}

// NewProgress builds an event for step of total, computing the percentage.
func NewProgress(stage string, step, total int, message string) Progress {
	pct := 0
	if total > 0 {
		pct = step * 100 / total
	}
	return Progress{
		Stage:      stage,
		Step:       step,
		TotalSteps: total,
		Percentage: pct,
		Message:    message,
		Timestamp:  time.Now(),
	}
}
