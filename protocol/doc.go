package protocol

// This package implements the wire-level primitives for the text-delimited
// protocol that Hermes uses to talk to a trading gateway.
//
// This protocol aims to be
//
// - trivial to frame
// - human inspectable on the wire
// - forward compatible via per-message versioning
//
// === General Syntax
//
// - every value on the wire is a UTF-8 text field
// - each field is terminated by a single NUL (0x00) byte
// - there are no length prefixes anywhere
// - numbers and booleans are textual and parsed after the fact
//
// A message is an envelope field followed by a type-specific run of fields:
//
//   ```
//     <typeID>\x00<field>\x00<field>\x00...
//   ```
//
// Message boundaries are implicit. Only the decoder registered for a type ID
// knows how many fields that message occupies, so a catalog lookup is
// required before anything after the envelope can be consumed. A stream with
// an unknown type ID in it cannot be resynchronised and is fatal to the
// reader.
//
// === Handshake
//
// Performed immediately after the TCP connect, strictly in this order:
//
//   ```
//     > <clientVersion>\x00
//     < <serverVersion>\x00<connectTime>\x00
//     > <clientID>\x00
//   ```
//
// The server version is the negotiated protocol version for the rest of the
// session. Sessions are rejected when it falls below the minimum the client
// supports.
//
// === Sentinel values
//
// The gateway reports "not yet computed" numeric values in two ways:
//
// - an empty field, for optional integer and decimal reads
// - a decimal at or above ~1.797e308 (the largest float64), for "maximum
//   decimal" reads
//
// Some decimal fields additionally treat any value at or below a
// caller-supplied limit (conventionally -1) as absent.
//
// === Sequences and mappings
//
// A sequence is an integer count field followed by that many entries, each
// entry consuming however many fields its decoder needs. A count of zero or
// less means an empty sequence with no entries on the wire. A mapping is a
// sequence whose entries are a key field and a value field; later duplicate
// keys win.
