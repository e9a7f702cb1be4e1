package protocol

// Message is one decoded inbound gateway message.
type Message interface {
	// TypeID is the envelope type identifier the message was decoded from.
	TypeID() int
}

// Decoder constructs a Message by consuming the message's own fields from
// the reader until its schema is satisfied. serverVersion is the protocol
// version negotiated at handshake, used for version-gated fields.
type Decoder func(r *Reader, serverVersion int) (Message, error)

// Outbound is a client command that can render itself as an ordered field
// sequence, envelope included.
type Outbound interface {
	Encode() ([]interface{}, error)
}

// Catalog maps envelope type identifiers to decoders. It is built once at
// startup and read-only from then on; the reader loop depends on it to know
// how many fields each message occupies.
type Catalog struct {
	decoders map[int]Decoder
}

func NewCatalog() *Catalog {
	return &Catalog{decoders: map[int]Decoder{}}
}

// Register installs the decoder for a type ID, replacing any previous one.
func (c *Catalog) Register(id int, decode Decoder) {
	c.decoders[id] = decode
}

func (c *Catalog) Lookup(id int) (Decoder, bool) {
	decode, ok := c.decoders[id]
	return decode, ok
}

func (c *Catalog) Has(id int) bool {
	_, ok := c.decoders[id]
	return ok
}

// TypeIDs returns every registered type ID in unspecified order.
func (c *Catalog) TypeIDs() []int {
	ids := make([]int, 0, len(c.decoders))
	for id := range c.decoders {
		ids = append(ids, id)
	}

	return ids
}
