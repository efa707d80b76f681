// Package metrics provides per-attempt counters.
//
// The Collector accumulates counters during a single patch attempt. It is a
// leaf package with no internal dependencies; the pipeline records step
// outcomes and the download and storage layers record their own traffic.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the attempt counters.
type Snapshot struct {
	// Step outcomes
	StepsSucceeded int64 `json:"steps_succeeded"`
	StepsSkipped   int64 `json:"steps_skipped"`
	StepsFailed    int64 `json:"steps_failed"`

	// Download cache
	CacheHits       int64 `json:"cache_hits"`
	CacheMisses     int64 `json:"cache_misses"`
	BytesDownloaded int64 `json:"bytes_downloaded"`

	// Install log storage
	StorageWriteSuccess int64 `json:"storage_write_success"`
	StorageWriteFailure int64 `json:"storage_write_failure"`

	// Notifications
	NotifySuccess int64 `json:"notify_success"`
	NotifyFailure int64 `json:"notify_failure"`

	// StepDurationsMs holds the duration of every terminal step by name.
	StepDurationsMs map[string]int64 `json:"step_durations_ms,omitempty"`

	// Dimensions (informational, set at construction)
	AttemptID      string `json:"attempt_id"`
	StorageBackend string `json:"storage_backend"`
}

// Collector accumulates metrics during a single attempt.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	stepsSucceeded int64
	stepsSkipped   int64
	stepsFailed    int64

	cacheHits       int64
	cacheMisses     int64
	bytesDownloaded int64

	storageWriteSuccess int64
	storageWriteFailure int64

	notifySuccess int64
	notifyFailure int64

	stepDurations map[string]int64

	attemptID      string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(attemptID, storageBackend string) *Collector {
	return &Collector{
		stepDurations:  make(map[string]int64),
		attemptID:      attemptID,
		storageBackend: storageBackend,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Steps ---

// ObserveStep records a terminal step state and its duration.
// state is one of "success", "skipped" or "error"; other values only
// record the duration.
func (c *Collector) ObserveStep(name, state string, durationMs int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case "success":
		c.stepsSucceeded++
	case "skipped":
		c.stepsSkipped++
	case "error":
		c.stepsFailed++
	}
	c.stepDurations[name] = durationMs
}

// --- Download cache ---

// IncCacheHit records an artifact served from the cache.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.add(&c.cacheHits, 1)
}

// IncCacheMiss records an artifact that had to be fetched.
func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.add(&c.cacheMisses, 1)
}

// AddBytesDownloaded records transferred payload bytes.
func (c *Collector) AddBytesDownloaded(n int64) {
	if c == nil {
		return
	}
	c.add(&c.bytesDownloaded, n)
}

// --- Storage ---

// IncStorageWriteSuccess records a successful install log write (per call).
func (c *Collector) IncStorageWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.storageWriteSuccess, 1)
}

// IncStorageWriteFailure records a failed install log write (per call).
func (c *Collector) IncStorageWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storageWriteFailure, 1)
}

// --- Notifications ---

// IncNotifySuccess records a delivered completion event.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.add(&c.notifySuccess, 1)
}

// IncNotifyFailure records a failed completion event delivery.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.add(&c.notifyFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	durations := make(map[string]int64, len(c.stepDurations))
	for k, v := range c.stepDurations {
		durations[k] = v
	}

	return Snapshot{
		StepsSucceeded: c.stepsSucceeded,
		StepsSkipped:   c.stepsSkipped,
		StepsFailed:    c.stepsFailed,

		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		BytesDownloaded: c.bytesDownloaded,

		StorageWriteSuccess: c.storageWriteSuccess,
		StorageWriteFailure: c.storageWriteFailure,

		NotifySuccess: c.notifySuccess,
		NotifyFailure: c.notifyFailure,

		StepDurationsMs: durations,

		AttemptID:      c.attemptID,
		StorageBackend: c.storageBackend,
	}
}
