package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	if snap := c.Snapshot(); snap.Verify != nil || snap.Upload != nil {
		t.Fatalf("empty collector should have nil operation snapshots, got %+v", snap)
	}

	c.RecordTiming(OpVerify, 100*time.Millisecond)
	c.RecordTiming(OpVerify, 300*time.Millisecond)
	c.RecordFailure(OpUpload, 50*time.Millisecond)

	snap := c.Snapshot()
	if snap.Verify == nil {
		t.Fatal("expected verify snapshot")
	}
	if snap.Verify.Count != 2 {
		t.Errorf("verify count = %d, want 2", snap.Verify.Count)
	}
	if snap.Verify.MinTimeMs != 100 || snap.Verify.MaxTimeMs != 300 {
		t.Errorf("verify min/max = %d/%d, want 100/300", snap.Verify.MinTimeMs, snap.Verify.MaxTimeMs)
	}
	if snap.Verify.AvgTimeMs != 200 {
		t.Errorf("verify avg = %v, want 200", snap.Verify.AvgTimeMs)
	}
	if snap.Upload == nil || snap.Upload.Failures != 1 {
		t.Errorf("upload failures = %+v, want 1", snap.Upload)
	}
	if snap.RecordWrite != nil {
		t.Errorf("record write should be nil, got %+v", snap.RecordWrite)
	}
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpCapture, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Capture.Count; got != 50 {
		t.Errorf("capture count = %d, want 50", got)
	}
}
