// Package hub implements the real-time chat hub: it tracks authenticated
// websocket connections, drives each connection through its lifecycle, relays
// inbound chat payloads and fans every event out to the connected
// participants.
//
// All participants share one broadcast domain. Delivery is best effort: a
// recipient that is closed or cannot keep up is skipped, and a recipient whose
// send buffer is full is evicted, without affecting anyone else.
package hub
