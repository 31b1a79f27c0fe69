// Package transport delivers coordination requests and matches their replies.
//
// A Driver is the packet-level collaborator: a non-blocking SendPacket and a
// non-blocking TryRecvPacket. It promises nothing about delivery. Session
// sits on top of one driver and one remote address; it stamps each request
// with a UUID carried as the packet header, drains the driver on a
// background goroutine and completes the matching Call. A lost packet is a
// Call that times out, never one that hangs.
//
// Three drivers ship with the package:
//
//	HTTPDriver      one POST {addr}/rpc per packet, reply in the body
//	LoopbackDriver  hands packets to an in-process Handler
//	MockDriver      records sends, replays one injected packet (tests)
//
// NewHTTPHandler is the server half of HTTPDriver.
package transport
