// Package redis implements the job store on Redis using go-redis/v9.
//
// Each job is a Hash. Claimable jobs sit in a per-name Sorted Set scored
// by run_at and running jobs in a second per-name Sorted Set scored by
// lock_at. Every guarded transition is a Lua script, so a claim or
// settle is atomic on the server. Scripts derive keys from job names, so
// the store targets a single Redis node rather than Redis Cluster.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Setup(ctx); err != nil { ... }
package redis
