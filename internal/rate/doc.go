// Package rate provides the Redis fixed-window throttle applied to refresh
// calls per token family.
//
// # Window semantics
//
// Fixed-window counters: INCR + EXPIRE on the first hit. Key prefix:
//   - rf:<family>: refresh count per family
//
// The throttle only bounds request rate. It never stores token state and is
// never consulted for rotation or lockout decisions.
//
// # What this package must NOT do
//
//   - Implement session policy.
//   - Be imported outside this module.
package rate
