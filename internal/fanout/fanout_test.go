package fanout

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New[int]()
	defer b.Close()

	ch := make(chan int, 10)
	if err := b.Subscribe("worker", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Publish(7)
	select {
	case v := <-ch:
		if v != 7 {
			t.Errorf("received %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("value not delivered")
	}
	if b.Published() != 1 {
		t.Errorf("Published = %d", b.Published())
	}
}

func TestBus_NeverBlocks(t *testing.T) {
	b := New[int]()
	defer b.Close()

	slow := make(chan int, 1)
	fast := make(chan int, 8)
	if err := b.Subscribe("slow", slow); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("fast", fast); err != nil {
		t.Fatal(err)
	}

	done := make(chan int)
	go func() {
		dropped := 0
		for i := 1; i <= 4; i++ {
			dropped += b.Publish(i)
		}
		done <- dropped
	}()

	select {
	case dropped := <-done:
		if dropped != 3 {
			t.Errorf("dropped = %d, want 3", dropped)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	s, err := b.Stats("slow")
	if err != nil {
		t.Fatal(err)
	}
	if s.Sent != 1 || s.Dropped != 3 || s.Policy != DropNew {
		t.Errorf("slow stats = %+v", s)
	}
	if f, _ := b.Stats("fast"); f.Sent != 4 || f.Dropped != 0 {
		t.Errorf("fast stats = %+v", f)
	}
	if v := <-slow; v != 1 {
		t.Errorf("slow subscriber got %d, want the first value", v)
	}
}

func TestBus_Latest(t *testing.T) {
	b := New[int]()
	defer b.Close()

	l, err := b.SubscribeLatest("display")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.TryReceive(); ok {
		t.Error("TryReceive on an empty holder returned a value")
	}

	for i := 1; i <= 3; i++ {
		b.Publish(i)
	}
	v, ok := l.Receive()
	if !ok || v != 3 {
		t.Errorf("Receive = %d, %v; want 3, true", v, ok)
	}
	if _, ok := l.TryReceive(); ok {
		t.Error("value received twice")
	}

	s, _ := b.Stats("display")
	if s.Sent != 3 || s.Dropped != 2 || s.Policy != DropOld {
		t.Errorf("stats = %+v", s)
	}
}

func TestLatest_CloseWakesReceiver(t *testing.T) {
	b := New[int]()
	l, err := b.SubscribeLatest("display")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = l.Receive()
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()
	wg.Wait()
	if ok {
		t.Error("Receive reported a value after Close")
	}
}

func TestBus_Errors(t *testing.T) {
	b := New[int]()

	if err := b.Subscribe("a", nil); !errors.Is(err, ErrNilChannel) {
		t.Errorf("nil channel = %v", err)
	}
	if err := b.Subscribe("a", make(chan int, 1)); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("a", make(chan int, 1)); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("duplicate id = %v", err)
	}
	if _, err := b.SubscribeLatest("a"); !errors.Is(err, ErrSubscriberExists) {
		t.Errorf("duplicate latest id = %v", err)
	}
	if err := b.Unsubscribe("missing"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Unsubscribe(missing) = %v", err)
	}
	if _, err := b.Stats("missing"); !errors.Is(err, ErrSubscriberNotFound) {
		t.Errorf("Stats(missing) = %v", err)
	}
	if err := b.Unsubscribe("a"); err != nil {
		t.Errorf("Unsubscribe = %v", err)
	}

	b.Close()
	b.Close()
	if err := b.Subscribe("b", make(chan int, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v", err)
	}
	if n := b.Publish(1); n != 0 || b.Published() != 0 {
		t.Errorf("Publish after Close counted: dropped %d, published %d", n, b.Published())
	}
}

func TestBus_AllStatsOrdered(t *testing.T) {
	b := New[string]()
	defer b.Close()

	for _, id := range []string{"c", "a", "b"} {
		if err := b.Subscribe(id, make(chan string, 1)); err != nil {
			t.Fatal(err)
		}
	}
	stats := b.AllStats()
	if len(stats) != 3 || stats[0].ID != "a" || stats[2].ID != "c" {
		t.Errorf("AllStats = %+v", stats)
	}
}

func TestPolicy_String(t *testing.T) {
	if DropNew.String() != "drop-new" || DropOld.String() != "drop-old" || Policy(9).String() != "unknown" {
		t.Error("unexpected policy names")
	}
}
