package tracker_test

import (
	"testing"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/tracker"
)

func TestHubFanOut(t *testing.T) {
	hub := tracker.NewHub(tracker.WithBufferSize(4))
	a := hub.Subscribe(nil)
	b := hub.Subscribe(nil)

	hub.Send(tracker.Completed(id.NewJobID(), "email"))

	for _, sub := range []*tracker.Subscription{a, b} {
		select {
		case r := <-sub.C():
			if r.Kind != tracker.KindCompleted {
				t.Fatalf("kind = %s", r.Kind)
			}
		default:
			t.Fatalf("subscription %s received nothing", sub.ID())
		}
	}

	stats := hub.Stats()
	if stats.SubscriberCount != 2 || stats.TotalPublished != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestHubFilter(t *testing.T) {
	hub := tracker.NewHub()
	wanted := id.NewJobID()
	sub := hub.Subscribe(tracker.ForJob(wanted.String()))

	hub.Send(tracker.Completed(id.NewJobID(), "other"))
	hub.Send(tracker.Completed(wanted, "email"))
	hub.Unsubscribe(sub)

	var got []tracker.Report
	for r := range sub.C() {
		got = append(got, r)
	}
	if len(got) != 1 || !got[0].JobID.Equal(wanted) {
		t.Fatalf("got %+v", got)
	}
}

func TestHubSlowSubscriberDrops(t *testing.T) {
	hub := tracker.NewHub(tracker.WithBufferSize(1))
	sub := hub.Subscribe(nil)
	jobID := id.NewJobID()

	hub.Send(tracker.Progress(jobID, "email", 1))
	hub.Send(tracker.Progress(jobID, "email", 2))

	if hub.Stats().TotalDropped != 1 || sub.Dropped() != 1 {
		t.Fatalf("stats = %+v, sub dropped = %d", hub.Stats(), sub.Dropped())
	}

	hub.Close()
	if hub.Stats().SubscriberCount != 0 {
		t.Fatal("expected no subscribers after close")
	}
}
