// Package adapter defines the notification boundary for finished patch attempts.
//
// Adapters publish a completion event to a downstream system (webhook, redis).
// The pipeline owns adapter lifecycle through Notifier; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/pipeline"
	"github.com/pithecene-io/modpatch/types"
)

// EventType is the event_type of every published event.
const EventType = "patch_completed"

// PatchCompletedEvent is the payload published when an attempt finishes.
type PatchCompletedEvent struct {
	EventType   string                  `json:"event_type"`
	AttemptID   string                  `json:"attempt_id"`
	Package     string                  `json:"package"`
	Outcome     types.OutcomeStatus     `json:"outcome"`
	Kind        types.ErrorKind         `json:"kind,omitempty"`
	Step        string                  `json:"step,omitempty"`
	Message     string                  `json:"message"`
	Versions    types.ComponentVersions `json:"versions"`
	ToolVersion string                  `json:"tool_version"`
	Timestamp   string                  `json:"timestamp"` // RFC 3339
	DurationMs  int64                   `json:"duration_ms"`
}

// NewEvent builds the event for a finished attempt.
func NewEvent(res *pipeline.Result, opts types.PatchOptions, versions types.ComponentVersions) *PatchCompletedEvent {
	return &PatchCompletedEvent{
		EventType:   EventType,
		AttemptID:   res.AttemptID,
		Package:     opts.PackageName,
		Outcome:     res.Outcome.Status,
		Kind:        res.Outcome.Kind,
		Step:        res.Outcome.Step,
		Message:     res.Outcome.Message,
		Versions:    versions,
		ToolVersion: types.Version,
		Timestamp:   res.StartedAt.Add(res.Duration).UTC().Format(time.RFC3339),
		DurationMs:  res.Duration.Milliseconds(),
	}
}

// Adapter publishes completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *PatchCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Notifier is a pipeline completion hook that publishes through an Adapter.
// Cancelled attempts are not published.
type Notifier struct {
	Adapter Adapter
	// Metrics records publish outcomes; optional.
	Metrics *metrics.Collector
	// Options and Versions are read when the attempt finishes, so steps
	// may fill them in while running.
	Options  func() types.PatchOptions
	Versions func() types.ComponentVersions
}

// Complete implements pipeline.CompletionHook.
func (n *Notifier) Complete(ctx context.Context, res *pipeline.Result) error {
	if res.Outcome.Status == types.OutcomeCancelled {
		return nil
	}
	var (
		opts     types.PatchOptions
		versions types.ComponentVersions
	)
	if n.Options != nil {
		opts = n.Options()
	}
	if n.Versions != nil {
		versions = n.Versions()
	}

	if err := n.Adapter.Publish(ctx, NewEvent(res, opts, versions)); err != nil {
		n.Metrics.IncNotifyFailure()
		return err
	}
	n.Metrics.IncNotifySuccess()
	return nil
}

var _ pipeline.CompletionHook = (*Notifier)(nil)
