// Package batch groups many logical operations raised concurrently by
// callers into fewer underlying calls.
//
// A Processor owns an ordered queue of operations. A batch is cut as soon
// as the queue reaches the adaptive batch size, when enough high-priority
// work is waiting, or when a queued item approaches its timeout;
// otherwise a timer fires after an adaptive wait. The batch size tracks
// recent processing latency (growing while batches are cheap, shrinking
// while they are slow) and the wait window shrinks as the queue fills.
//
// Operations are generic: a Processor[T, R] accepts T items and resolves
// each caller with its positional R result from the injected processor
// function.
package batch
