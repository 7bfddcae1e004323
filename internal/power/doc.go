// Package power turns a raw, possibly noisy power-presence signal into
// confirmed loss/restore decisions. Sources abstract the signal origin
// (ignition GPIO line, UPS flag file, kernel power_supply uevents); the
// Filter debounces samples over a confirmation window; the Monitor drives
// sampling on a fixed cadence and hands confirmed decisions to the
// orchestrator.
package power
