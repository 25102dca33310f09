package tracker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/tracker"
)

func TestNilTrackerIsNoop(t *testing.T) {
	var tr *tracker.Tracker
	tr.UpdateProgress(50)
	tr.Completed()
	tr.Failed("boom")
	if !tr.JobID().IsNil() {
		t.Fatal("expected Nil job ID from nil tracker")
	}
	if tracker.New(id.NewJobID(), "email", nil) != nil {
		t.Fatal("expected nil tracker for nil sink")
	}
}

func TestTrackerSendsProgress(t *testing.T) {
	ch := tracker.NewChannel(4)
	jobID := id.NewJobID()
	tr := tracker.New(jobID, "email", ch)

	tr.UpdateProgress(40)
	tr.UpdateProgress(250)
	tr.Completed()
	ch.Close()

	var got []tracker.Report
	for r := range ch.C() {
		got = append(got, r)
	}
	if len(got) != 3 {
		t.Fatalf("got %d reports, want 3", len(got))
	}
	if got[0].Kind != tracker.KindProgress || got[0].Progress != 40 {
		t.Errorf("first report = %+v", got[0])
	}
	if got[1].Progress != 100 {
		t.Errorf("progress not clamped: %d", got[1].Progress)
	}
	if got[2].Kind != tracker.KindCompleted || !got[2].JobID.Equal(jobID) {
		t.Errorf("last report = %+v", got[2])
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	ch := tracker.NewChannel(1)
	jobID := id.NewJobID()

	ch.Send(tracker.Progress(jobID, "email", 1))
	ch.Send(tracker.Progress(jobID, "email", 2))

	if ch.Sent() != 1 || ch.Dropped() != 1 {
		t.Fatalf("sent=%d dropped=%d, want 1/1", ch.Sent(), ch.Dropped())
	}
}

func TestChannelSendAfterClose(t *testing.T) {
	ch := tracker.NewChannel(1)
	ch.Close()
	ch.Close()
	ch.Send(tracker.Completed(id.NewJobID(), "email"))
	if ch.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", ch.Dropped())
	}
}

func TestChannelConcurrentSendAndClose(t *testing.T) {
	ch := tracker.NewChannel(8)
	jobID := id.NewJobID()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				ch.Send(tracker.Progress(jobID, "email", 1))
			}
		}()
	}
	ch.Close()
	wg.Wait()

	if ch.Sent()+ch.Dropped() != 800 {
		t.Fatalf("sent+dropped = %d, want 800", ch.Sent()+ch.Dropped())
	}
}

func TestConsume(t *testing.T) {
	ch := tracker.NewChannel(4)
	jobID := id.NewJobID()
	ch.Send(tracker.Progress(jobID, "email", 10))
	ch.Send(tracker.Completed(jobID, "email"))
	ch.Close()

	var kinds []tracker.Kind
	err := ch.Consume(context.Background(), func(r tracker.Report) {
		kinds = append(kinds, r.Kind)
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(kinds) != 2 || kinds[1] != tracker.KindCompleted {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestConsumeStopsOnContext(t *testing.T) {
	ch := tracker.NewChannel(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := ch.Consume(ctx, func(tracker.Report) {}); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
