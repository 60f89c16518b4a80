// Package registry owns the shared state of the signaling relay: which
// users currently hold a live connection, and which users belong to which
// room.
//
// It is pure bookkeeping plus best-effort delivery; all I/O policy (what to
// send, when to notify) lives in internal/signaling.
package registry
