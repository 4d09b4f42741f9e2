// Package relay implements the HTTP rendezvous relay: an untrusted
// mailbox two devices use to exchange the secure channel's messages.
//
// Server keeps the recent writes of each session in memory:
//
//	POST   {Path}       create a session; 201 with {"url"}, ETag and Expires
//	GET    {Path}/{id}  read the write after If-None-Match; 304 when none
//	PUT    {Path}/{id}  add a write; 412 when If-Match is not the latest
//	DELETE {Path}/{id}  end the session
//
// Unknown and expired sessions answer 404. Session is the client side and
// implements rendezvous.Transport, polling GET until the other device writes.
// The relay only ever sees ciphertext.
package relay
