// Package channel carries progress events from producers to the pickup.
//
// A Queue is the in-process event channel: unbounded, FIFO and closed by a
// sentinel item. A Relay exposes that queue to worker processes over a unix
// (or loopback tcp) socket using newline-delimited JSON frames. A Reporter is
// the producer-side handle: local reporters push straight onto the queue,
// remote reporters are rebuilt in a worker process from an encoded Handle and
// write frames to the relay over a single connection so each producer's events
// stay in order.
package channel
