// Package redis implements checkpoint.Saver backed by Redis, for
// deployments where the single shared state file is not enough and
// thread state must survive outside the project directory. Each
// checkpoint is a Hash, each thread's recency order is a List (head =
// newest), and each pending-write ledger is a Hash.
//
// The caller owns the Redis client lifecycle — the store never closes
// it:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
