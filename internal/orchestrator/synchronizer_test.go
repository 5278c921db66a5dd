package orchestrator

import (
	"sync"
	"testing"
	"time"
)

func TestSynchronizer_SerializesSameConstellation(t *testing.T) {
	s := NewSynchronizer()

	const workers = 8
	const perWorker = 200
	counter := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				s.WithExclusive("c1", func() error {
					counter++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if counter != workers*perWorker {
		t.Errorf("counter = %d, want %d (lost updates mean sections interleaved)", counter, workers*perWorker)
	}
}

func TestSynchronizer_DifferentConstellationsDoNotBlock(t *testing.T) {
	s := NewSynchronizer()

	holding := make(chan struct{})
	release := make(chan struct{})
	go s.WithExclusive("c1", func() error {
		close(holding)
		<-release
		return nil
	})
	<-holding

	done := make(chan struct{})
	go s.WithExclusive("c2", func() error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("section for c2 blocked behind c1's section")
	}
	close(release)
}

func TestSynchronizer_PropagatesError(t *testing.T) {
	s := NewSynchronizer()
	want := "section failed"
	err := s.WithExclusive("c1", func() error {
		return errTest(want)
	})
	if err == nil || err.Error() != want {
		t.Errorf("WithExclusive() error = %v, want %q", err, want)
	}

	// The section must be released after an error.
	ok := make(chan struct{})
	go s.WithExclusive("c1", func() error {
		close(ok)
		return nil
	})
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("section still held after an error return")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestSynchronizer_ForgetDropsAndRecreates(t *testing.T) {
	s := NewSynchronizer()
	if err := s.WithExclusive("c1", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if len(s.sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(s.sections))
	}

	s.Forget("c1")
	if len(s.sections) != 0 {
		t.Errorf("sections after Forget = %d, want 0", len(s.sections))
	}

	// Sections recreate lazily; a forgotten id is still usable.
	ran := false
	if err := s.WithExclusive("c1", func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("WithExclusive after Forget: ran=%v err=%v", ran, err)
	}
}
