package client_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/hermes/client"
	"github.com/luma/hermes/gatewaytest"
	"github.com/luma/hermes/messages"
	"github.com/luma/hermes/protocol"
)

func startGateway(opts gatewaytest.Options) *gatewaytest.Server {
	server := gatewaytest.NewServer(opts)
	Expect(server.Start(context.Background())).To(Succeed())
	return server
}

func gatewayOptions(server *gatewaytest.Server) client.Options {
	host, portStr, err := net.SplitHostPort(server.Addr())
	Expect(err).To(Succeed())

	port, err := strconv.Atoi(portStr)
	Expect(err).To(Succeed())

	return client.Options{
		Host:             host,
		Port:             port,
		ClientID:         7,
		MinServerVersion: 53,
		ReadTick:         50 * time.Millisecond,
	}
}

func newConn() *client.Conn {
	return client.New(messages.NewCatalog(), zap.NewNop())
}

var _ = Describe("Conn", func() {
	Describe("Open()", func() {
		It("negotiates the server version and connect time", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			Expect(conn.IsConnected()).To(BeTrue())
			Expect(conn.ServerVersion()).To(Equal(53))
			Expect(conn.GatewayConnectTime()).To(Equal("20230101 10:00:00"))
			Expect(conn.ClientID()).To(Equal(7))
			Expect(conn.ConnectedAt()).NotTo(BeZero())
		})

		It("fails on an already connected session without side effects", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			err := conn.Open(context.Background(), gatewayOptions(server))
			Expect(errors.Is(err, client.ErrAlreadyConnected)).To(BeTrue())
			Expect(conn.IsConnected()).To(BeTrue())
			Expect(conn.ServerVersion()).To(Equal(53))
		})

		It("rejects a gateway below the minimum version and stays disconnected", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 40})
			defer server.Close()

			conn := newConn()
			err := conn.Open(context.Background(), gatewayOptions(server))

			Expect(errors.Is(err, client.ErrProtocolVersion)).To(BeTrue())
			Expect(conn.IsConnected()).To(BeFalse())
			Expect(errors.Is(conn.Send(&messages.RequestCurrentTime{}), client.ErrNotConnected)).To(BeTrue())
		})

		It("generates a bounded client ID when none is supplied", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			opts := gatewayOptions(server)
			opts.ClientID = 0

			conn := newConn()
			Expect(conn.Open(context.Background(), opts)).To(Succeed())
			defer conn.Close()

			Expect(conn.ClientID()).To(BeNumerically(">", 0))
			Expect(conn.ClientID()).To(BeNumerically("<", 999999999))
		})
	})

	Describe("Close()", func() {
		It("resets the session to a fresh disconnected record", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			Expect(conn.Close()).To(Succeed())

			Expect(conn.IsConnected()).To(BeFalse())
			Expect(conn.ServerVersion()).To(Equal(0))

			_, set := conn.NextOrderID()
			Expect(set).To(BeFalse())
		})

		It("fails a Send after Close instead of writing to a dead socket", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			Expect(conn.Close()).To(Succeed())

			err := conn.Send(&messages.RequestCurrentTime{})
			Expect(errors.Is(err, client.ErrNotConnected)).To(BeTrue())
		})

		It("errors when the session was never opened", func() {
			conn := newConn()
			Expect(errors.Is(conn.Close(), client.ErrNotConnected)).To(BeTrue())
		})
	})

	Describe("Send()", func() {
		It("writes the outbound record to the gateway", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			Expect(conn.Send(&messages.RequestIDs{NumIDs: 1})).To(Succeed())

			Eventually(server.Received, "2s").Should(Equal([]string{"8", "1", "1"}))
		})

		It("rejects a nil message", func() {
			conn := newConn()
			Expect(errors.Is(conn.Send(nil), client.ErrInvalidSendTarget)).To(BeTrue())
		})
	})

	Describe("Subscribe()", func() {
		It("rejects a nil callback", func() {
			conn := newConn()
			err := conn.Subscribe(messages.NextValidIDType, nil)
			Expect(errors.Is(err, client.ErrInvalidListener)).To(BeTrue())
		})

		It("rejects an unknown inbound type", func() {
			conn := newConn()
			err := conn.Subscribe(9999, func(protocol.Message) {})
			Expect(errors.Is(err, client.ErrInvalidListener)).To(BeTrue())
		})
	})

	Describe("reader loop", func() {
		It("dispatches a decoded message to every listener in registration order", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			var mu sync.Mutex
			order := []string{}

			record := func(name string) client.Callback {
				return func(msg protocol.Message) {
					m, ok := msg.(*messages.CurrentTime)
					Expect(ok).To(BeTrue())
					Expect(m.Time).To(Equal(time.Unix(1693200000, 0)))

					mu.Lock()
					order = append(order, name)
					mu.Unlock()
				}
			}

			Eventually(server.ActiveConns, "2s").ShouldNot(BeZero())

			Expect(conn.Subscribe(messages.CurrentTimeType, record("first"))).To(Succeed())
			Expect(conn.Subscribe(messages.CurrentTimeType, record("second"))).To(Succeed())
			Expect(conn.Subscribe(messages.CurrentTimeType, record("third"))).To(Succeed())

			Expect(server.Send(messages.CurrentTimeType, 1, 1693200000)).To(Succeed())

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string{}, order...)
			}, "2s").Should(Equal([]string{"first", "second", "third"}))
		})

		It("consumes a zero envelope without dispatching or failing", func() {
			server := startGateway(gatewaytest.Options{
				ServerVersion: 53,
				Script: []gatewaytest.Record{
					{0},
					{messages.NextValidIDType, 1, 42},
				},
			})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			// The next-valid-id following the zero envelope still decodes,
			// so the zero was skipped cleanly.
			Eventually(func() bool {
				_, set := conn.NextOrderID()
				return set
			}, "2s").Should(BeTrue())

			id, _ := conn.NextOrderID()
			Expect(id).To(Equal(42))
			Expect(conn.NeedsReconnect()).To(BeFalse())
		})

		It("seeds the next order ID exactly once", func() {
			server := startGateway(gatewaytest.Options{
				ServerVersion: 53,
				Script: []gatewaytest.Record{
					{messages.NextValidIDType, 1, 42},
					{messages.NextValidIDType, 1, 99},
					{messages.CurrentTimeType, 1, 1693200000},
				},
			})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			seen := make(chan struct{})
			Expect(conn.Subscribe(messages.CurrentTimeType, func(protocol.Message) {
				close(seen)
			})).To(Succeed())

			// The current-time message is scripted after both next-valid-ids,
			// so once it lands, both have been dispatched.
			Eventually(seen, "2s").Should(BeClosed())

			id, set := conn.NextOrderID()
			Expect(set).To(BeTrue())
			Expect(id).To(Equal(42))
		})

		It("terminates on an unsupported message type and flags the session", func() {
			server := startGateway(gatewaytest.Options{
				ServerVersion: 53,
				Script: []gatewaytest.Record{
					{9999, "whatever"},
				},
			})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			Eventually(conn.NeedsReconnect, "2s").Should(BeTrue())
			Expect(errors.Is(conn.LastError(), protocol.ErrUnsupportedMessage)).To(BeTrue())
		})

		It("flags the session when the gateway closes the stream", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			Expect(server.Close()).To(Succeed())

			Eventually(conn.NeedsReconnect, "2s").Should(BeTrue())
		})

		It("isolates a panicking listener from the rest", func() {
			server := startGateway(gatewaytest.Options{ServerVersion: 53})
			defer server.Close()

			conn := newConn()
			Expect(conn.Open(context.Background(), gatewayOptions(server))).To(Succeed())
			defer conn.Close()

			Eventually(server.ActiveConns, "2s").ShouldNot(BeZero())

			var mu sync.Mutex
			invoked := []string{}

			Expect(conn.Subscribe(messages.CurrentTimeType, func(protocol.Message) {
				panic("bad subscriber")
			})).To(Succeed())

			Expect(conn.Subscribe(messages.CurrentTimeType, func(protocol.Message) {
				mu.Lock()
				invoked = append(invoked, "survivor")
				mu.Unlock()
			})).To(Succeed())

			Expect(server.Send(messages.CurrentTimeType, 1, 1693200000)).To(Succeed())
			Expect(server.Send(messages.CurrentTimeType, 1, 1693200001)).To(Succeed())

			Eventually(func() []string {
				mu.Lock()
				defer mu.Unlock()
				return append([]string{}, invoked...)
			}, "2s").Should(Equal([]string{"survivor", "survivor"}))

			Expect(conn.NeedsReconnect()).To(BeFalse())
		})
	})
})
