// Package degrade coordinates graceful degradation for upstream
// services.
//
// A Manager tracks one health state per service name. Failure streaks
// escalate the state (3 consecutive failures marks a service degraded,
// 6 activates fallback, 9 marks it unavailable) and a single success
// resets it to healthy from any level. Execute wraps a primary operation
// with that bookkeeping and a strict fallback cascade: stale cache value,
// dynamic fallback function, static fallback value, then the original
// error.
//
// Recovery is deliberately aggressive: there is no hysteresis window, so
// one good response fully restores a service.
package degrade
