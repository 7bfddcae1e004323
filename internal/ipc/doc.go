// Package ipc exposes daemon control over JSON-RPC on a Unix domain
// socket: status and event queries for the CLI, shutdown request and
// cancel for admin tooling, and the register/ack surface dependent
// services use to participate in shutdown notification rounds.
package ipc
