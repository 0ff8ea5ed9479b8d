package websocket

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewRateLimiter(max, window)
	l.now = clock.now
	return l, clock
}

func TestRateLimiterCap(t *testing.T) {
	l, clock := newTestLimiter(30, 10*time.Second)
	for i := 0; i < 30; i++ {
		if !l.Allow() {
			t.Fatalf("call %d rejected under the cap", i+1)
		}
		clock.advance(100 * time.Millisecond)
	}
	if l.Allow() {
		t.Fatalf("31st call inside the window was admitted")
	}
}

func TestRateLimiterSlidesPastOldest(t *testing.T) {
	l, clock := newTestLimiter(3, 10*time.Second)
	l.Allow() // t=0
	clock.advance(4 * time.Second)
	l.Allow() // t=4
	l.Allow() // t=4
	if l.Allow() {
		t.Fatalf("fourth call admitted")
	}

	clock.advance(6 * time.Second) // t=10, oldest has aged out
	if !l.Allow() {
		t.Fatalf("call after the oldest expired was rejected")
	}
	if l.Allow() {
		t.Fatalf("only one slot should have freed up")
	}

	clock.advance(4 * time.Second) // t=14, both t=4 stamps expire
	if !l.Allow() || !l.Allow() {
		t.Fatalf("expected two free slots")
	}
}

func TestRateLimiterRejectionsAreNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(1, time.Second)
	l.Allow()
	for i := 0; i < 10; i++ {
		l.Allow()
	}
	clock.advance(time.Second)
	if !l.Allow() {
		t.Fatalf("rejected calls must not extend the window")
	}
}
