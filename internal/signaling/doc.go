// Package signaling contains the WebSocket signaling surface for WebRTC
// peers: rooms, presence events, and best-effort relay of offer/answer/ICE
// payloads between clients.
//
// The relay never inspects or terminates media. Payloads are forwarded byte
// for byte; only the routing envelope (type, room_id, from_user, to_user) is
// interpreted here.
package signaling
