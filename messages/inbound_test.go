package messages_test

import (
	"bytes"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/hermes/messages"
	"github.com/luma/hermes/protocol"
)

// decodeStream decodes one message from a field stream that starts after
// the envelope, the way the reader loop hands it to a decoder.
func decodeStream(typeID int, serverVersion int, fields ...string) (protocol.Message, error) {
	buf := bytes.NewBuffer([]byte{})

	for _, field := range fields {
		buf.WriteString(field)
		buf.WriteByte(protocol.Terminator)
	}

	decode, ok := messages.NewCatalog().Lookup(typeID)
	Expect(ok).To(BeTrue())

	return decode(protocol.NewReader(buf), serverVersion)
}

var _ = Describe("Inbound decoding", func() {
	Describe("NextValidID", func() {
		It("decodes the first usable order ID", func() {
			msg, err := decodeStream(messages.NextValidIDType, 53, "1", "42")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.NextValidID)
			Expect(ok).To(BeTrue())
			Expect(m.OrderID).To(Equal(42))
			Expect(m.NextOrderID()).To(Equal(42))
		})
	})

	Describe("Notice", func() {
		It("decodes request ID, code and text from version 2 onwards", func() {
			msg, err := decodeStream(messages.NoticeType, 53, "2", "-1", "2104", "Market data farm connection is OK")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.Notice)
			Expect(ok).To(BeTrue())
			Expect(m.RequestID).To(Equal(-1))
			Expect(m.Code).To(Equal(2104))
			Expect(m.Text).To(Equal("Market data farm connection is OK"))
		})

		It("decodes bare text for version 1 notices", func() {
			msg, err := decodeStream(messages.NoticeType, 53, "1", "something broke")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.Notice)
			Expect(ok).To(BeTrue())
			Expect(m.Text).To(Equal("something broke"))
			Expect(m.Code).To(Equal(0))
		})
	})

	Describe("TickPrice", func() {
		It("decodes a version 2 tick with its size", func() {
			msg, err := decodeStream(messages.TickPriceType, 53, "2", "9001", "4", "101.25", "300")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.TickPrice)
			Expect(ok).To(BeTrue())
			Expect(m.TickerID).To(Equal(9001))
			Expect(m.TickType).To(Equal(4))
			Expect(m.Price).To(Equal(101.25))
			Expect(m.SizePresent).To(BeTrue())
			Expect(m.Size).To(Equal(300.0))
		})

		It("treats a size at the sentinel limit as absent", func() {
			msg, err := decodeStream(messages.TickPriceType, 53, "2", "9001", "4", "101.25", "-1")
			Expect(err).To(Succeed())

			m := msg.(*messages.TickPrice)
			Expect(m.SizePresent).To(BeFalse())
		})

		It("skips the size for version 1 ticks", func() {
			msg, err := decodeStream(messages.TickPriceType, 53, "1", "9001", "4", "101.25")
			Expect(err).To(Succeed())

			m := msg.(*messages.TickPrice)
			Expect(m.SizePresent).To(BeFalse())
		})
	})

	Describe("AccountValue", func() {
		It("decodes the account code from version 2 onwards", func() {
			msg, err := decodeStream(messages.AccountValueType, 53, "2", "NetLiquidation", "250000", "USD", "DU12345")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.AccountValue)
			Expect(ok).To(BeTrue())
			Expect(m.Key).To(Equal("NetLiquidation"))
			Expect(m.Value).To(Equal("250000"))
			Expect(m.Currency).To(Equal("USD"))
			Expect(m.Account).To(Equal("DU12345"))
		})
	})

	Describe("ManagedAccounts", func() {
		It("splits the comma-joined account list", func() {
			msg, err := decodeStream(messages.ManagedAccountsType, 53, "1", "DU12345,DU67890")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.ManagedAccounts)
			Expect(ok).To(BeTrue())
			Expect(m.Accounts).To(Equal([]string{"DU12345", "DU67890"}))
		})

		It("yields no accounts for an empty field", func() {
			msg, err := decodeStream(messages.ManagedAccountsType, 53, "1", "")
			Expect(err).To(Succeed())

			m := msg.(*messages.ManagedAccounts)
			Expect(m.Accounts).To(BeEmpty())
		})
	})

	Describe("CurrentTime", func() {
		It("decodes unix seconds", func() {
			msg, err := decodeStream(messages.CurrentTimeType, 53, "1", "1693200000")
			Expect(err).To(Succeed())

			m, ok := msg.(*messages.CurrentTime)
			Expect(ok).To(BeTrue())
			Expect(m.Time).To(Equal(time.Unix(1693200000, 0)))
		})
	})

	Describe("Outbound encoding", func() {
		It("renders RequestIDs as its envelope, version and count", func() {
			fields, err := (&messages.RequestIDs{NumIDs: 1}).Encode()
			Expect(err).To(Succeed())
			Expect(fields).To(Equal([]interface{}{messages.RequestIDsType, 1, 1}))
		})

		It("defaults RequestIDs to one ID", func() {
			fields, err := (&messages.RequestIDs{}).Encode()
			Expect(err).To(Succeed())
			Expect(fields).To(Equal([]interface{}{messages.RequestIDsType, 1, 1}))
		})

		It("renders RequestAccountUpdates with its subscribe flag", func() {
			fields, err := (&messages.RequestAccountUpdates{Subscribe: true, AccountCode: "DU12345"}).Encode()
			Expect(err).To(Succeed())
			Expect(fields).To(Equal([]interface{}{messages.RequestAccountUpdatesType, 2, true, "DU12345"}))
		})
	})
})
