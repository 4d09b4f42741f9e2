// Package main runs the in-memory rendezvous relay that devtrust devices use
// to find each other during a QR login.
//
// HTTP API
//
//	POST   /_matrix/client/unstable/org.matrix.msc3886/rendezvous
//	    Create a session. Answers 201 with {"url": ...}, an ETag and Expires.
//
//	GET    .../rendezvous/{id}
//	    Read the session. 304 when If-None-Match matches the current ETag.
//
//	PUT    .../rendezvous/{id}
//	    Replace the content. 412 when If-Match names an older ETag.
//
//	DELETE .../rendezvous/{id}
//	    End the session.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Sessions expire after --ttl; expired and unknown sessions answer 404.
//   - With --debug every request is logged with method, path, status and
//     duration.
//
// The relay is untrusted: it only ever stores ciphertext from the secure
// channel.
package main
