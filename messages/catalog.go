// Package messages is the concrete message catalog for the gateway
// protocol. The session core itself is message agnostic; it only depends on
// the decoder table built here and on the Outbound contract.
package messages

import (
	"github.com/luma/hermes/protocol"
)

// NewCatalog builds the decoder table for every inbound message type this
// client understands. The table is closed: an envelope ID outside it is
// fatal to the reader, as the stream cannot be resynchronised.
func NewCatalog() *protocol.Catalog {
	catalog := protocol.NewCatalog()

	catalog.Register(TickPriceType, decodeTickPrice)
	catalog.Register(TickSizeType, decodeTickSize)
	catalog.Register(OrderStatusType, decodeOrderStatus)
	catalog.Register(NoticeType, decodeNotice)
	catalog.Register(AccountValueType, decodeAccountValue)
	catalog.Register(AccountUpdateTimeType, decodeAccountUpdateTime)
	catalog.Register(NextValidIDType, decodeNextValidID)
	catalog.Register(ManagedAccountsType, decodeManagedAccounts)
	catalog.Register(CurrentTimeType, decodeCurrentTime)

	return catalog
}
