// Package protocol implements the line-oriented JSON wire protocol spoken
// between the server and the browser-side client.
//
// Every frame travels as a websocket text message. Inbound frames are either
// a single-character heartbeat or a JSON object; the object's keys determine
// how it is routed:
//
//   - "P" / "p": heartbeat ping / pong
//   - {"smsgid": N, "ret": ..., "err": ...}: response to a server-issued call
//   - {"service": ..., "methodname": ..., "args": ..., "cmsgid": N?}: client
//     service call, optionally expecting a response addressed by cmsgid
//   - {"servicedatapush": ..., "changes": {...}}: async property push to a
//     client service
//   - anything else: routed to the generic message handler (the form and
//     property layer)
//
// Outbound frames are prefixed with an auto-incrementing message number and
// a '#' separator before the JSON body:
//
//	42#{"call":{"name":"showUrl","args":["/main"]},"smsgid":7}
//
// # File Structure
//
//   - message.go: inbound frame parsing and kind detection
//   - encoder.go: outbound envelope and frame builders
//   - errors.go: parse error type
package protocol
