package services

import (
	"sync"
	"testing"
	"time"
)

func TestNotifierSubscribeUnsubscribe(t *testing.T) {
	n := NewNotifier()
	var got []string
	first := n.Subscribe(func(ev Event) { got = append(got, "a:"+string(ev.Kind)) })
	second := n.Subscribe(func(ev Event) { got = append(got, "b:"+string(ev.Kind)) })

	n.Emit(Event{Kind: EventModulePublished})
	first()
	first()
	n.Emit(Event{Kind: EventModuleDeleted})
	second()

	want := []string{"a:module.published", "b:module.published", "b:module.deleted"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if n.Len() != 0 {
		t.Fatalf("handlers left: %d", n.Len())
	}
	var nilNotifier *Notifier
	nilNotifier.Emit(Event{Kind: EventAssetDeleted})
}

func TestModuleLocksSerializeSameModule(t *testing.T) {
	l := newModuleLocks()
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.lock("m1")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d", maxActive)
	}
	if len(l.locks) != 0 {
		t.Fatalf("lock entries leaked: %d", len(l.locks))
	}
}

func TestModuleLocksIndependentModules(t *testing.T) {
	l := newModuleLocks()
	unlockA := l.lock("a")
	defer unlockA()
	done := make(chan struct{})
	go func() {
		unlock := l.lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}
}
