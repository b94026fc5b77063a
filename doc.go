// Package passport implements a session-sharing protocol that lets several
// independently deployed web applications (brokers) share a single login
// session owned by one authority (the server) without sharing a cookie
// domain.
//
// A broker redirects its visitor once to the server to attach a locally
// generated session token to the server's session store. From then on the
// broker signs every API call with a checksum derived from that token and
// its shared secret, and the server validates the checksum before trusting
// the call.
//
// The server half lives in the server, registry, storage and history
// packages; the client half lives in the broker package. The checksum and
// sid packages implement the wire primitives both halves share. This root
// package holds the protocol error taxonomy and wire shapes.
package passport
