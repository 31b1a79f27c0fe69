// Package wire defines the binary format of the coordination protocol.
//
// Every request is
//
//	RequestCommon{Opcode, Service} | fixed header | trailer
//
// and every response is
//
//	ResponseCommon{Status} | fixed header | trailer
//
// All integers are little endian. Fixed headers are plain structs encoded
// with encoding/binary; a header that is followed by a variable-length
// trailer (a service locator, a serialized list, an opaque token) carries the
// trailer's length in one of its fields and implements TrailerLength so the
// codec can check it on both sides. When a response status is not StatusOK
// only the common header is sent and the rest is undefined.
//
// Server lists and tablet maps are serialized as JSON documents inside the
// trailer; recovery info is carried raw.
package wire
