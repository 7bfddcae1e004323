// Package fsguard protects writable filesystems against power loss. It
// tracks in-flight writers per mount through refcounted write tokens, flips
// mounts read-only during shutdown once writers drain, and sets up overlay
// mounts so chatty paths never touch flash in the first place.
package fsguard
