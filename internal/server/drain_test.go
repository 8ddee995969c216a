package server

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDrainController_TracksInFlight(t *testing.T) {
	d := NewDrainController(time.Second)

	if !d.RequestStarted() {
		t.Fatal("fresh controller should accept requests")
	}
	if !d.RequestStarted() {
		t.Fatal("second request should be accepted")
	}
	if got := d.InFlight(); got != 2 {
		t.Errorf("expected 2 in flight, got %d", got)
	}

	d.RequestCompleted()
	d.RequestCompleted()
	if got := d.InFlight(); got != 0 {
		t.Errorf("expected 0 in flight, got %d", got)
	}
}

func TestDrainController_RejectsWhileDraining(t *testing.T) {
	d := NewDrainController(time.Second)

	if !d.RequestStarted() {
		t.Fatal("should accept before drain")
	}
	d.StartDrain()

	if d.RequestStarted() {
		t.Error("should reject after StartDrain")
	}
	if got := d.InFlight(); got != 1 {
		t.Errorf("rejected request must not change in-flight count, got %d", got)
	}
	if d.Ready() {
		t.Error("draining controller must not report ready")
	}
	if !d.Draining() {
		t.Error("Draining should report true")
	}
}

func TestDrainController_WaitReturnsWhenIdle(t *testing.T) {
	d := NewDrainController(5 * time.Second)
	d.StartDrain()

	start := time.Now()
	if remaining := d.Wait(context.Background()); remaining != 0 {
		t.Errorf("expected clean drain, %d still in flight", remaining)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("idle drain should return immediately, took %v", elapsed)
	}
}

func TestDrainController_WaitForInFlight(t *testing.T) {
	d := NewDrainController(5 * time.Second)
	d.RequestStarted()
	d.StartDrain()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(250 * time.Millisecond)
		d.RequestCompleted()
	}()

	if remaining := d.Wait(context.Background()); remaining != 0 {
		t.Errorf("expected clean drain, %d still in flight", remaining)
	}
	wg.Wait()
}

func TestDrainController_WaitTimesOut(t *testing.T) {
	d := NewDrainController(200 * time.Millisecond)
	d.RequestStarted() // never completes
	d.StartDrain()

	if remaining := d.Wait(context.Background()); remaining != 1 {
		t.Errorf("expected 1 stuck request, got %d", remaining)
	}
}

func TestDrainController_StartDrainIdempotent(t *testing.T) {
	d := NewDrainController(time.Second)
	d.StartDrain()
	d.StartDrain()

	st := d.Status()
	if !st.Draining || st.Ready {
		t.Errorf("unexpected status after double drain: %+v", st)
	}
}
