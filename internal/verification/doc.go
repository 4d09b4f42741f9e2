// Package verification implements interactive key verification between two
// devices.
//
// A Request is the state machine of one attempt. It moves through
//
//	Unsent → Requested → Ready → Started → Done
//
// and may jump to Cancelled from any non-terminal phase. Phases only move
// forward and a terminal request never changes again; later events are
// kept for audit only.
//
// Requests talk through a Channel:
//
//   - ToDeviceChannel sends events straight to devices. A request goes to a
//     set of candidate devices, the first one to answer is adopted and the
//     others receive an m.accepted cancel. Events from any other device get
//     an m.unexpected_message cancel addressed to that device alone.
//   - RoomChannel posts events into a room timeline. The request event's id
//     is the transaction id and any device of the other user may answer.
//
// Channels feed our own sends back into the request as echoes so the
// request's view of "events by us" matches what the other side sees.
//
// When both parties send start, the event whose (canonical content,
// sender, device) sorts first wins on both sides, without a coordinator.
// The winner's method is instantiated from the Methods registry as a
// Verifier. Only QR reciprocation is implemented; the QR show/scan methods
// are registered as IllegalMethod.
//
// Requests time out DefaultTimeout after the request timestamp. Historical
// events (live == false) and events showing another of our devices is the
// participant make a request observe-only: it is tracked and displayed but
// never acted on.
//
// ToDeviceRequests and RoomRequests route inbound events to their request.
// They hold no global state; the owner of the sync loop keeps them.
package verification
