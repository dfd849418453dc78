// Package wireproto defines the Ticket Issuer and Work Broker's on-wire
// framing: an 8-byte header {version, msg_type, flags, payload_len}
// followed by a fixed-size payload selected by msg_type. payload_len must
// match ExpectedPayloadLen(msg_type) exactly; any mismatch, unknown
// version, or unknown message type is reported as ErrProtocol so the
// caller can drop the connection and count it as a protocol error rather
// than attempt partial recovery.
package wireproto
