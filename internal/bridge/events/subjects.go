package events

import "fmt"

// Subject naming conventions for NATS.
//
// Hierarchy:
//   nearbridge.sessions.<callback_id>.<category>.<suffix>  - Per-session events
//   nearbridge.transfers.summary                           - Terminal transfer stream
//
// Wildcard subscriptions:
//   nearbridge.sessions.>                          - All session events
//   nearbridge.sessions.*.payload.>                - All payload events
//   nearbridge.sessions.<callback_id>.>            - All events for one session

const (
	// SubjectPrefix is the root of all bridge subjects
	SubjectPrefix = "nearbridge"

	// SubjectSessions is the per-session event root
	SubjectSessions = SubjectPrefix + ".sessions"

	// SubjectTransferSummary carries terminal transfer outcomes
	SubjectTransferSummary = SubjectPrefix + ".transfers.summary"
)

// SessionSubject builds a subject for a session-scoped event.
// Example: SessionSubject("cb-1", "payload.received") => "nearbridge.sessions.cb-1.payload.received"
func SessionSubject(callbackID string, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessions, callbackID, eventSuffix)
}

// Subject patterns for common consumer configurations
var (
	// PatternAllSessions matches every session event
	PatternAllSessions = SubjectSessions + ".>"

	// PatternPayloadTransfers matches all transfer updates across sessions
	PatternPayloadTransfers = SubjectSessions + ".*.payload.transfer_update"

	// PatternConnections matches connection lifecycle events across sessions
	PatternConnections = SubjectSessions + ".*.connection.>"
)
