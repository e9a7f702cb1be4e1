package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/hermes/gatewaytest"
	"github.com/luma/hermes/internal/env"
	"github.com/luma/hermes/messages"
)

var (
	// The host to listen on
	fakeHost string

	// The port to listen on
	fakePort int

	// The protocol version the fake gateway negotiates
	fakeServerVersion int
)

func init() {
	flags := FakeGatewayCmd.PersistentFlags()

	flags.StringVarP(&fakeHost, "host", "a", "0.0.0.0", "The host to listen on")
	flags.IntVarP(&fakePort, "port", "p", 7496, "The port to listen for clients on")
	flags.IntVar(&fakeServerVersion, "server-version", 53, "The protocol version to negotiate")
}

var FakeGatewayCmd = &cobra.Command{
	Use:   "fakegw",
	Short: "Run a scriptable fake gateway for client testing",
	Long: `Run a scriptable fake gateway for client testing

Performs the server side of the handshake and greets every client with a
next-valid-id and a benign connection notice.

Usage
	hermes fakegw

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		server := gatewaytest.NewServer(gatewaytest.Options{
			Host:          fakeHost,
			Port:          fakePort,
			ServerVersion: fakeServerVersion,
			ConnectTime:   time.Now().Format("20060102 15:04:05"),
			Script: []gatewaytest.Record{
				{messages.NextValidIDType, 1, 1},
				{messages.NoticeType, 2, -1, 2104, "Market data farm connection is OK"},
			},
			Log: log.Named("fakegw"),
		})

		if err := server.Start(ctx); err != nil {
			return err
		}

		log.Info("Fake gateway running", zap.String("addr", server.Addr()))

		<-ctx.Done()
		signalStop()

		if err := server.Close(); err != nil {
			log.Error("Fake gateway did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
