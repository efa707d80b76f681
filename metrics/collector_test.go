package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("att-001", "fs")

	c.ObserveStep("fetch_info", "success", 12)
	c.ObserveStep("download_base", "skipped", 3)
	c.ObserveStep("download_libs", "skipped", 4)
	c.ObserveStep("sign", "error", 90)
	c.IncCacheHit()
	c.IncCacheHit()
	c.IncCacheMiss()
	c.AddBytesDownloaded(1024)
	c.AddBytesDownloaded(512)
	c.IncStorageWriteSuccess()
	c.IncStorageWriteFailure()
	c.IncStorageWriteFailure()
	c.IncNotifySuccess()
	c.IncNotifyFailure()

	s := c.Snapshot()

	checks := []struct {
		name      string
		got, want int64
	}{
		{"StepsSucceeded", s.StepsSucceeded, 1},
		{"StepsSkipped", s.StepsSkipped, 2},
		{"StepsFailed", s.StepsFailed, 1},
		{"CacheHits", s.CacheHits, 2},
		{"CacheMisses", s.CacheMisses, 1},
		{"BytesDownloaded", s.BytesDownloaded, 1536},
		{"StorageWriteSuccess", s.StorageWriteSuccess, 1},
		{"StorageWriteFailure", s.StorageWriteFailure, 2},
		{"NotifySuccess", s.NotifySuccess, 1},
		{"NotifyFailure", s.NotifyFailure, 1},
		{"StepDurationsMs[sign]", s.StepDurationsMs["sign"], 90},
	}
	for _, tt := range checks {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_ObserveStep_UnknownState(t *testing.T) {
	c := NewCollector("att-001", "fs")
	c.ObserveStep("install", "pending", 7)

	s := c.Snapshot()
	if s.StepsSucceeded+s.StepsSkipped+s.StepsFailed != 0 {
		t.Error("unknown state should not count as an outcome")
	}
	if s.StepDurationsMs["install"] != 7 {
		t.Errorf("StepDurationsMs[install] = %d, want 7", s.StepDurationsMs["install"])
	}
}

func TestCollector_Dimensions(t *testing.T) {
	s := NewCollector("att-42", "s3").Snapshot()

	if s.AttemptID != "att-42" {
		t.Errorf("AttemptID = %q, want %q", s.AttemptID, "att-42")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("att-001", "fs")
	c.IncCacheHit()
	c.ObserveStep("a", "success", 1)

	s1 := c.Snapshot()

	c.IncCacheHit()
	c.ObserveStep("b", "success", 2)
	s1.StepDurationsMs["injected"] = 1

	if s1.CacheHits != 1 {
		t.Errorf("s1.CacheHits = %d, want 1 (snapshot should be frozen)", s1.CacheHits)
	}
	s2 := c.Snapshot()
	if s2.CacheHits != 2 || s2.StepsSucceeded != 2 {
		t.Errorf("s2 = %+v", s2)
	}
	if _, ok := s2.StepDurationsMs["injected"]; ok {
		t.Error("collector should be isolated from snapshot mutation")
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.ObserveStep("a", "success", 1)
	c.IncCacheHit()
	c.IncCacheMiss()
	c.AddBytesDownloaded(10)
	c.IncStorageWriteSuccess()
	c.IncStorageWriteFailure()
	c.IncNotifySuccess()
	c.IncNotifyFailure()

	s := c.Snapshot()
	if s.CacheHits != 0 || s.StepDurationsMs != nil {
		t.Errorf("nil collector snapshot = %+v, want zero", s)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("att-001", "fs")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncCacheMiss()
				c.AddBytesDownloaded(2)
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)
	if s.CacheMisses != want {
		t.Errorf("CacheMisses = %d, want %d", s.CacheMisses, want)
	}
	if s.BytesDownloaded != 2*want {
		t.Errorf("BytesDownloaded = %d, want %d", s.BytesDownloaded, 2*want)
	}
}
