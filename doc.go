// Package swscore holds the pieces shared by the pool managers and clients of this module:
// the cancellation shield and bounded wait decorators, the error taxonomy, logging setup and
// the opt-in retry helper.
//
// Concrete components live in subpackages: postgres and redis (pooled stores), httpclient
// (JSON over HTTP), jwt (token codec) and telegram (bot messenger). Configuration is read by
// the config package.
//
// Typical lifecycle:
//
//	pg, err := postgres.Create(ctx, pgConfig)
//	kv, err := redis.Create(ctx, redisConfig)
//	defer swscore.CloseAll(context.Background(), pg, kv)
package swscore

// Timeout model
//
// Mutating operations (writes, deletes, publishes) run behind Shield: the caller's cancellation
// is deferred until the operation completes, and each operation carries its own timeout instead.
// Read operations are cancellable at any point and have no side effects.
// Close paths run behind BoundedWait with CloseTimeout, so shutdown never hangs indefinitely.
// Timeouts are normalized with ErrTimeout, which wraps the context error when applicable
// to preserve errors.Is(err, context.Canceled).
