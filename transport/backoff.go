// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"fmt"
	"time"
)

// Backoff decides how long to wait before the next connect attempt.
// attempt is the 1-based number of the attempt that just failed.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same duration after every failed attempt.
type FixedBackoff time.Duration

func (b FixedBackoff) Delay(int) time.Duration {
	return time.Duration(b)
}

// ExponentialBackoff waits Initial, then multiplies the delay by Multiplier
// after each failure, never exceeding Max (when Max > 0).
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// ParseBackoff builds a backoff strategy by name: "fixed" or "exponential".
func ParseBackoff(name string, delay, maxDelay time.Duration) (Backoff, error) {
	switch name {
	case "", "fixed":
		return FixedBackoff(delay), nil
	case "exponential":
		return ExponentialBackoff{Initial: delay, Max: maxDelay, Multiplier: 2}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}
