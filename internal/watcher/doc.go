// Package watcher turns filesystem notifications under a project root into
// debounced, deduplicated batches of changed paths.
//
// The state machine is stopped → running ⇄ paused → stopped. While running,
// every event (re)arms a single debounce timer, so a burst produces one
// flush. While paused, events are queued but no timer is armed; Resume
// flushes the accumulated set at once. Stop releases the watch and flushes
// whatever remains.
//
// The queue is bounded by Config.MaxQueue distinct paths. Past that, the
// queue is dropped and the next batch carries Rescan instead: the consumer
// re-derives changes from disk by content hash, so nothing is lost.
package watcher
