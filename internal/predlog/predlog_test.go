package predlog

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func entry(pred string) Entry {
	return Entry{Source: "test", Prediction: pred}
}

func TestLog_BoundAndOrder(t *testing.T) {
	l := New(3, nil)
	for i := 0; i < 10; i++ {
		l.Append(entry(fmt.Sprint(i)))
		if l.Len() > l.Capacity() {
			t.Fatalf("len %d exceeds capacity %d", l.Len(), l.Capacity())
		}
	}
	items := l.Items()
	want := []string{"7", "8", "9"}
	if len(items) != len(want) {
		t.Fatalf("len(items) = %d, want %d", len(items), len(want))
	}
	for i, e := range items {
		if e.Prediction != want[i] {
			t.Errorf("items[%d] = %q, want %q", i, e.Prediction, want[i])
		}
	}
}

func TestLog_DefaultCapacity(t *testing.T) {
	if got := New(0, nil).Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", got, DefaultCapacity)
	}
}

func TestLog_AppendFillsIDAndTime(t *testing.T) {
	l := New(2, nil)
	e := l.Append(entry("low"))
	if e.ID == "" || e.Time.IsZero() {
		t.Errorf("Append did not fill ID/Time: %+v", e)
	}
}

func TestLog_Clear(t *testing.T) {
	l := New(2, nil)
	l.Append(entry("a"))
	l.Append(entry("b"))
	l.Clear()
	if l.Len() != 0 || len(l.Items()) != 0 {
		t.Fatalf("log not empty after Clear")
	}
	l.Append(entry("c"))
	if items := l.Items(); len(items) != 1 || items[0].Prediction != "c" {
		t.Errorf("items after clear+append = %+v", items)
	}
}

func TestLog_ConcurrentAppends(t *testing.T) {
	const writers, perWriter, capacity = 8, 100, 50
	l := New(capacity, nil)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(entry(fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	if l.Len() != capacity {
		t.Fatalf("Len = %d, want %d", l.Len(), capacity)
	}
	seen := make(map[string]bool)
	for _, e := range l.Items() {
		if seen[e.ID] {
			t.Fatalf("duplicate entry %s", e.ID)
		}
		seen[e.ID] = true
	}
}

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *recordingSink) SavePrediction(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func TestLog_Sink(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	l := New(1, sink)
	l.Append(entry("a"))
	l.Append(entry("b"))

	if len(sink.entries) != 2 {
		t.Fatalf("sink received %d entries, want 2", len(sink.entries))
	}
	if l.Len() != 1 {
		t.Errorf("sink error affected the ring: len = %d", l.Len())
	}
}

func TestLog_Subscribe(t *testing.T) {
	l := New(5, nil)
	ch, cancel := l.Subscribe(4)

	l.Append(entry("high"))
	select {
	case e := <-ch:
		if e.Prediction != "high" {
			t.Errorf("received %q, want high", e.Prediction)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed entry")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	l.Append(entry("low"))
}

func TestLog_SlowSubscriberDoesNotBlock(t *testing.T) {
	l := New(5, nil)
	_, cancel := l.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			l.Append(entry("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a full subscriber")
	}
}
