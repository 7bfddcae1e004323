// Package logging builds the slog loggers used across brownout. It provides
// a console handler tuned for interactive reading on a serial console, a JSON
// handler for machine consumption, typed attribute helpers, and the
// standardized field keys shared by every component.
package logging
