/*
Package resilience provides failure-handling primitives for pipeline workers.

# Overview

Two primitives live here:

  - Backoff: bounded exponential delays, used by worker pools between the
    crash of a worker and the start of its replacement.
  - Breaker: a three-state circuit breaker, used by sinks that talk to remote
    services so a dead endpoint fails messages fast instead of stalling the
    whole sink pool.

# Usage

	breaker := resilience.New("webhook", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Execute(func() error {
		return client.Post(record)
	})

	// Two-step form, for calls whose outcome is known elsewhere
	done, err := breaker.Allow()
	if err == nil {
		done(deliver(record) == nil)
	}

	backoff := resilience.DefaultBackoff()
	_ = backoff.Wait(ctx, attempt)

# Breaker States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
