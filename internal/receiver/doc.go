// Package receiver is the HTTP front end for a socket mode app.
//
// Events arrive over the persistent socket, not inbound webhooks; the HTTP
// surface exists for the OAuth install page, the OAuth redirect, and caller
// registered custom routes. A single dispatcher decides which of the three
// serves each request, in that priority order, falling back to 404.
package receiver
