// Package journal persists coordinator events (power decisions, phase
// transitions, step outcomes, faults) in a SQLite database so operators can
// reconstruct what happened across an ignition cycle. The journal is
// best-effort during shutdown: append failures are logged, never fatal.
package journal
