// Package socketmode maintains the persistent outbound socket connection.
//
// Client calls apps.connections.open for a websocket URL, dials it, and keeps
// a read loop running: answering pings, acknowledging envelopes, reconnecting
// with backoff when the server drops or requests a refresh. Received envelopes
// surface on the Events channel; routing them to business handlers is the
// embedding application's concern.
package socketmode
