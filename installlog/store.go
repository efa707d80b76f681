// Package installlog persists one record per finished patch attempt.
//
// Each record is stored twice: the full document (transcript included) at
// logs/<attempt_id>.json, and a summary row in a Hive-partitioned Lode
// dataset (package/day/attempt_id) that backs history queries. Cancelled
// attempts are never recorded.
package installlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/modpatch/iox"
	"github.com/pithecene-io/modpatch/metrics"
	"github.com/pithecene-io/modpatch/types"
)

// DefaultDataset is the Lode dataset ID for attempt summaries.
const DefaultDataset = "modpatch"

// RecordKindAttempt marks summary rows in the dataset.
const RecordKindAttempt = "attempt"

// ErrCancelledAttempt is returned when asked to record a cancelled attempt.
var ErrCancelledAttempt = errors.New("cancelled attempts are not recorded")

// DeriveDay computes the partition day from the attempt start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DocPath returns the document path of an attempt.
func DocPath(attemptID string) string {
	return "logs/" + attemptID + ".json"
}

// Summary is the dataset row of one attempt.
type Summary struct {
	RecordKind  string              `json:"record_kind"`
	AttemptID   string              `json:"attempt_id"`
	Package     string              `json:"package"`
	Day         string              `json:"day"`
	Status      types.OutcomeStatus `json:"status"`
	Kind        types.ErrorKind     `json:"kind,omitempty"`
	Step        string              `json:"step,omitempty"`
	Message     string              `json:"message"`
	DurationMs  int64               `json:"duration_ms"`
	StartedAt   time.Time           `json:"started_at"`
	ToolVersion string              `json:"tool_version"`
	Channel     string              `json:"channel,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Package string
	Status  types.OutcomeStatus
	// Limit caps the number of results; 0 means unlimited.
	Limit int
}

func (f Filter) match(s Summary) bool {
	return (f.Package == "" || s.Package == f.Package) &&
		(f.Status == "" || s.Status == f.Status)
}

// Store reads and writes install logs.
type Store struct {
	store   lode.Store
	dataset lode.Dataset
	backend string
	metrics *metrics.Collector
}

// New creates a Store on the given factory. backend labels metrics
// ("fs", "s3", "memory").
func New(factory lode.StoreFactory, backend string) (*Store, error) {
	st, err := factory()
	if err != nil {
		return nil, wrap("init", DefaultDataset, err)
	}
	shared := func() (lode.Store, error) { return st, nil }
	ds, err := lode.NewDataset(
		lode.DatasetID(DefaultDataset),
		shared,
		lode.WithHiveLayout("package", "day", "attempt_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", DefaultDataset, err)
	}
	return &Store{store: st, dataset: ds, backend: backend}, nil
}

// NewFS creates a Store rooted at dir, creating it if needed.
func NewFS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("init", dir, err)
	}
	return New(lode.NewFSFactory(dir), "fs")
}

// WithMetrics records write outcomes on m.
func (s *Store) WithMetrics(m *metrics.Collector) *Store {
	s.metrics = m
	return s
}

// Backend returns the backend label.
func (s *Store) Backend() string { return s.backend }

// SummaryOf derives the dataset row for rec.
func SummaryOf(rec *types.InstallLogRecord) Summary {
	return Summary{
		RecordKind:  RecordKindAttempt,
		AttemptID:   rec.AttemptID,
		Package:     rec.Options.PackageName,
		Day:         DeriveDay(rec.StartedAt),
		Status:      rec.Outcome.Status,
		Kind:        rec.Outcome.Kind,
		Step:        rec.Outcome.Step,
		Message:     rec.Outcome.Message,
		DurationMs:  rec.DurationMs,
		StartedAt:   rec.StartedAt.UTC(),
		ToolVersion: rec.Environment.ToolVersion,
		Channel:     rec.Options.Channel,
	}
}

// Write stores rec. The document is written first so every summary row
// points at an existing document.
func (s *Store) Write(ctx context.Context, rec *types.InstallLogRecord) error {
	if err := validateID(rec.AttemptID); err != nil {
		return err
	}
	if rec.Outcome.Status == types.OutcomeCancelled {
		return ErrCancelledAttempt
	}
	err := s.write(ctx, rec)
	if err != nil {
		s.metrics.IncStorageWriteFailure()
		return err
	}
	s.metrics.IncStorageWriteSuccess()
	return nil
}

func (s *Store) write(ctx context.Context, rec *types.InstallLogRecord) error {
	doc, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode install log: %w", err)
	}
	p := DocPath(rec.AttemptID)
	if err := s.store.Put(ctx, p, bytes.NewReader(doc)); err != nil {
		return wrap("write", p, err)
	}

	row, err := toRow(SummaryOf(rec))
	if err != nil {
		return err
	}
	if _, err := s.dataset.Write(ctx, []any{row}, lode.Metadata{}); err != nil {
		return wrap("write", DefaultDataset, err)
	}
	return nil
}

// Get returns the full record of an attempt.
func (s *Store) Get(ctx context.Context, attemptID string) (*types.InstallLogRecord, error) {
	if err := validateID(attemptID); err != nil {
		return nil, err
	}
	p := DocPath(attemptID)
	rc, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, wrap("read", p, err)
	}
	defer iox.DiscardClose(rc)
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrap("read", p, err)
	}
	var rec types.InstallLogRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return &rec, nil
}

// List returns matching summaries, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Summary, error) {
	snaps, err := s.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap("list", DefaultDataset, err)
	}
	seen := make(map[string]bool)
	var out []Summary
	for _, snap := range snaps {
		data, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap("read", fmt.Sprintf("%s/snapshot/%s", DefaultDataset, snap.ID), err)
		}
		for _, item := range data {
			sum, ok := fromRow(item)
			if !ok || seen[sum.AttemptID] || !f.match(sum) {
				continue
			}
			seen[sum.AttemptID] = true
			out = append(out, sum)
		}
	}
	slices.SortFunc(out, func(a, b Summary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid attempt id %q", id)
	}
	return nil
}

func toRow(s Summary) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func fromRow(item any) (Summary, bool) {
	row, ok := item.(map[string]any)
	if !ok || row["record_kind"] != RecordKindAttempt {
		return Summary{}, false
	}
	b, err := json.Marshal(row)
	if err != nil {
		return Summary{}, false
	}
	var s Summary
	if err := json.Unmarshal(b, &s); err != nil {
		return Summary{}, false
	}
	return s, true
}

// Stats aggregates attempt summaries.
type Stats struct {
	Total     int                     `json:"total"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	ByKind    map[types.ErrorKind]int `json:"by_kind"`
	ByStep    map[string]int          `json:"by_step"`
	// AvgDurationMs is the mean duration of successful attempts.
	AvgDurationMs int64     `json:"avg_duration_ms"`
	Last          time.Time `json:"last,omitzero"`
}

// Summarize computes Stats over sums.
func Summarize(sums []Summary) Stats {
	st := Stats{ByKind: map[types.ErrorKind]int{}, ByStep: map[string]int{}}
	var okMs int64
	for _, s := range sums {
		st.Total++
		if s.StartedAt.After(st.Last) {
			st.Last = s.StartedAt
		}
		switch s.Status {
		case types.OutcomeSuccess:
			st.Succeeded++
			okMs += s.DurationMs
		case types.OutcomeError:
			st.Failed++
			st.ByKind[s.Kind]++
			st.ByStep[s.Step]++
		}
	}
	if st.Succeeded > 0 {
		st.AvgDurationMs = okMs / int64(st.Succeeded)
	}
	return st
}
