// Package orchestrator owns the shutdown state machine. It consumes
// confirmed power decisions and admin requests through a single-consumer
// event queue, runs the grace countdown, and once committed walks the
// shutdown plan strictly in order. Every transition happens on the Run
// goroutine, so no two steps ever execute concurrently.
package orchestrator
