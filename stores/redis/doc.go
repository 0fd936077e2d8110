// Package redis provides a Redis-backed TokenStore and a fixed-window RateLimiter.
//
// Tokens live under "{prefix}:tok:{digest}" with a TTL equal to their remaining
// lifetime, so expired tokens disappear without a sweeper.  A per-user set
// "{prefix}:user:{user_id}:{type}" indexes outstanding digests for DeleteUserTokens.
package redis
