// Package installer implements the Slack OAuth v2 install flow.
//
// Provider generates authorization URLs with a single-use state nonce and
// handles the provider redirect: state verification, code exchange against
// oauth.v2.access, then success/failure callback rendering.
package installer
