package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPolicyDelayWithRand(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt, no jitter roll", 1, 0, 100 * time.Millisecond},
		{"first attempt, full jitter", 1, 1, 150 * time.Millisecond},
		{"second attempt doubles", 2, 0, 200 * time.Millisecond},
		{"fourth attempt", 4, 0, 800 * time.Millisecond},
		{"cap applies", 10, 0, 2 * time.Second},
		{"attempt below one clamps", 0, 0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.DelayWithRand(tt.attempt, tt.random); got != tt.want {
				t.Errorf("DelayWithRand(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestPolicyDelayNoCap(t *testing.T) {
	p := Policy{Initial: time.Second, Factor: 3}
	if got := p.DelayWithRand(3, 0); got != 9*time.Second {
		t.Errorf("uncapped delay = %v, want 9s", got)
	}
}

func TestReminderPolicyShape(t *testing.T) {
	p := ReminderPolicy()
	first := p.DelayWithRand(1, 0)
	second := p.DelayWithRand(2, 0)
	third := p.DelayWithRand(3, 0)

	if first != 250*time.Millisecond {
		t.Errorf("first reminder gap = %v", first)
	}
	if second <= first || third <= second {
		t.Errorf("reminder gaps should widen: %v, %v, %v", first, second, third)
	}
	if capped := p.DelayWithRand(20, 1); capped > p.Max {
		t.Errorf("gap %v exceeds cap %v", capped, p.Max)
	}
}

func TestTransientCredentialBlock(t *testing.T) {
	if TransientCredentialBlock != 5*time.Minute {
		t.Errorf("transient block = %v, want 5m", TransientCredentialBlock)
	}
}

func TestSleepCompletes(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("slept only %v", elapsed)
	}
}

func TestSleepZeroIsImmediate(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("zero sleep took %v", elapsed)
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestSleepAttemptCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepAttempt(ctx, ReminderPolicy(), 1); err == nil {
		t.Error("cancelled context should surface an error")
	}
}
