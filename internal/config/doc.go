// Package config loads, normalizes, and validates brownout's TOML
// configuration. Configuration is read once at daemon startup; there is no
// runtime reconfiguration. A config that cannot be validated, or that names
// devices the daemon cannot guarantee protection without, refuses to load.
package config
