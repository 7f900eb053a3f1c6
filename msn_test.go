// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package brt

import "testing"

func TestMSNGeneratorMonotonic(t *testing.T) {
	t.Parallel()

	g := newMSNGenerator(MSNNone)
	var prev MSN
	for i := 0; i < 100; i++ {
		cur := g.nextMSN()
		if cur <= prev {
			t.Fatalf("MSN generator went non-monotonic: prev=%d cur=%d", prev, cur)
		}
		prev = cur
	}
}

func TestMSNGeneratorStartsAfterStartAt(t *testing.T) {
	t.Parallel()

	g := newMSNGenerator(MSN(41))
	if got := g.nextMSN(); got != 42 {
		t.Fatalf("first MSN after starting at 41 = %d, want 42", got)
	}
}

func TestMSNGeneratorObserveNeverGoesBackwards(t *testing.T) {
	t.Parallel()

	g := newMSNGenerator(MSNNone)
	first := g.nextMSN()
	if first != 1 {
		t.Fatalf("first MSN = %d, want 1", first)
	}

	g.observe(MSN(1000))
	next := g.nextMSN()
	if next <= 1000 {
		t.Fatalf("nextMSN after observe(1000) = %d, want > 1000", next)
	}

	// observing a lower value than the current position must be a no-op.
	g.observe(MSN(5))
	again := g.nextMSN()
	if again <= next {
		t.Fatalf("observe with a stale value moved the generator backwards: %d <= %d", again, next)
	}
}
