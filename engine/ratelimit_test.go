/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"testing"
	"time"
)

func TestRateLimiterUnderLimit(t *testing.T) {
	limiter := NewRateLimiter(10, 60)

	for i := 0; i < 10; i++ {
		if waited := limiter.Wait(); waited != 0 {
			t.Fatalf("Request %d under the limit waited %v", i, waited)
		}
	}
}

func TestRateLimiterBlocksAtLimit(t *testing.T) {
	limiter := NewRateLimiter(2, 1)

	limiter.Wait()
	limiter.Wait()

	start := time.Now()
	waited := limiter.Wait()
	elapsed := time.Since(start)

	if waited <= 0 {
		t.Errorf("Expected a positive wait at the limit, got %v", waited)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("Expected the third request to block near the period, blocked %v", elapsed)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	limiter := NewRateLimiter(1, 1)

	limiter.Wait()
	time.Sleep(1100 * time.Millisecond)

	if waited := limiter.Wait(); waited != 0 {
		t.Errorf("Request after window expiry waited %v", waited)
	}
}
