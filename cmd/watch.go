package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/hermes/accounts"
	"github.com/luma/hermes/client"
	"github.com/luma/hermes/internal/env"
	"github.com/luma/hermes/messages"
	"github.com/luma/hermes/protocol"
)

var (
	// The gateway host to connect to
	gatewayHost string

	// The gateway port to connect to
	gatewayPort int

	// The client identity to announce, 0 derives one
	clientID int

	// The port to serve the debug HTTP endpoints on
	httpPort string
)

func init() {
	flags := WatchCmd.PersistentFlags()

	flags.StringVarP(&gatewayHost, "host", "a", client.DefaultHost, "The gateway host to connect to")
	flags.IntVarP(&gatewayPort, "port", "p", client.DefaultPort, "The gateway port to connect to")
	flags.IntVar(&clientID, "client-id", 0, "The client ID to announce (0 derives one)")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to serve debug HTTP requests on")
}

var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a gateway and stream its messages",
	Long: `Connect to a gateway and stream its messages

Subscribes to every known message type, mirrors the account state stream
into a queryable snapshot, and serves debug HTTP endpoints next to the
session.

Usage
	hermes watch

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger()
		if err != nil {
			return err
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		catalog := messages.NewCatalog()
		conn := client.New(catalog, log.Named("session"))

		if err := conn.Open(ctx, client.Options{
			Host:     gatewayHost,
			Port:     gatewayPort,
			ClientID: clientID,
		}); err != nil {
			return err
		}

		// Log every inbound message so the stream is visible.
		msgLog := log.Named("messages")
		for _, typeID := range catalog.TypeIDs() {
			id := typeID

			if err := conn.Subscribe(id, func(msg protocol.Message) {
				msgLog.Info("Message", zap.Int("type", id), zap.Any("body", msg))
			}); err != nil {
				return err
			}
		}

		snapshot := accounts.NewSnapshot()
		defer snapshot.Close()

		if err := accounts.Mirror(conn, snapshot); err != nil {
			return err
		}

		if err := conn.Send(&messages.RequestIDs{NumIDs: 1}); err != nil {
			return err
		}

		if err := conn.Send(&messages.RequestCurrentTime{}); err != nil {
			return err
		}

		if conf.Account != "" {
			if err := conn.Send(&messages.RequestAccountUpdates{
				Subscribe:   true,
				AccountCode: conf.Account,
			}); err != nil {
				return err
			}
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/session", func(c *gin.Context) {
			nextOrderID, nextOrderIDSet := conn.NextOrderID()

			c.JSON(http.StatusOK, gin.H{
				"connected":       conn.IsConnected(),
				"needsReconnect":  conn.NeedsReconnect(),
				"serverVersion":   conn.ServerVersion(),
				"clientID":        conn.ClientID(),
				"nextOrderID":     nextOrderID,
				"nextOrderIDSet":  nextOrderIDSet,
				"connectedAt":     conn.ConnectedAt(),
				"gatewayConnTime": conn.GatewayConnectTime(),
			})
		})

		router.GET("/accounts/*path", func(c *gin.Context) {
			path := c.Param("path")
			if len(path) > 0 && path[0] == '/' {
				path = path[1:]
			}

			if path == "" {
				c.Data(http.StatusOK, "application/json", snapshot.Dump())
				return
			}

			raw := snapshot.Get(path)
			if raw == "" {
				c.Status(http.StatusNotFound)
				return
			}

			c.Data(http.StatusOK, "application/json", []byte(raw))
		})

		s := &http.Server{
			Addr:    net.JoinHostPort("0.0.0.0", httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Watching",
			zap.String("gatewayHost", gatewayHost),
			zap.Int("gatewayPort", gatewayPort),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := conn.Close(); err != nil && !errors.Is(err, client.ErrNotConnected) {
			log.Error("Session did not close cleanly", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
