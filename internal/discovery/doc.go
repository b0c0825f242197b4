// Package discovery finds compatible pubs on the local network and
// federates with them. Swarm announcements pass through an ordered filter
// chain; each survivor gets an invitation fetched from its /invited/json
// responder and accepted into the local trust store.
package discovery
