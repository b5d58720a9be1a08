// Package storage is the optional persistence layer of the relay.
//
// It keeps:
//   - an audit trail of accepted emails (what was broadcast, when, from whom)
//   - operator actions issued through the chat console
//
// Storage is never on the delivery path: a write failure is logged by the caller
// and the relay carries on.
package storage
