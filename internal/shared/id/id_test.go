package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id2.Compare(id1) <= 0 {
		t.Error("Monotonic IDs should sort after earlier ones")
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	for _, prefix := range []string{RunPrefix, ObservationPrefix} {
		id := gen.GenerateWithPrefix(prefix)

		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", prefix, id)
		}

		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			t.Fatalf("Prefixed ID should have format 'prefix_ulid', got: %s", id)
		}
		if !IsValid(parts[1]) {
			t.Errorf("ULID part should be valid: %s", parts[1])
		}
	}
}

func TestObservationForIsDeterministic(t *testing.T) {
	run := NewRunID()

	a := ObservationFor(run, "fake_0")
	b := ObservationFor(run, "fake_0")
	c := ObservationFor(run, "fake_1")

	if a != b {
		t.Errorf("same run and name should give same ID: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different names should give different IDs")
	}
	if !strings.HasPrefix(string(a), ObservationPrefix+"_") {
		t.Errorf("observation ID should be prefixed, got %s", a)
	}

	runTime, err := Timestamp(string(run))
	if err != nil {
		t.Fatalf("run timestamp: %v", err)
	}
	obsTime, err := Timestamp(string(a))
	if err != nil {
		t.Fatalf("observation timestamp: %v", err)
	}
	if !runTime.Equal(obsTime) {
		t.Errorf("observation should inherit run time: %v vs %v", obsTime, runTime)
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	run := NewRunID()

	ts, err := Timestamp(string(run))
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v earlier than %v", ts, before)
	}

	if _, err := Timestamp("run_not-a-ulid"); err == nil {
		t.Error("expected error for invalid ULID")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers, perWorker = 8, 100

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s := gen.Generate().String()
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique IDs, got %d", workers*perWorker, len(seen))
	}
}
