/*
Package resilience guards calls to peers that may not be reachable yet.

A non-zero rank starting before the coordinator is listening sees its first
join attempts fail. Retry paces the attempts with a rate limiter and runs each
one through a Breaker, so a coordinator that is down costs a bounded number of
dials rather than a hot loop. Collective calls are never retried: a failed
exchange is a correctness problem handled by the abort protocol.

# Usage

	breaker := resilience.New("coordinator-join", resilience.Settings{
		Cooldown: 500 * time.Millisecond,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)

	err := resilience.Retry(ctx, limiter, breaker, 50, func(ctx context.Context) error {
		return client.join(ctx)
	})

# States

	Closed --[Trip]-> Open --[Cooldown]-> Half-Open --[MaxProbes successes]-> Closed
	                                         |
	                                     [failure]
	                                         v
	                                        Open
*/
package resilience
