package client

import (
	"time"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 7496

	defaultDialTimeout = 5 * time.Second
	defaultReadTick    = 2 * time.Second
)

type Options struct {
	// Host of the gateway to connect to
	Host string

	// Port of the gateway to connect to
	Port int

	// ClientID identifies this session to the gateway. When zero, an ID is
	// derived from the wall clock and process identity. The derivation is
	// statistical, not a uniqueness guarantee.
	ClientID int

	// MinServerVersion rejects gateways that negotiate a protocol version
	// below it. Defaults to MinServerVersion.
	MinServerVersion int

	// DialTimeout bounds the TCP connect
	DialTimeout time.Duration

	// ReadTick bounds each blocking read so the reader loop can notice
	// cancellation. It is not a protocol timeout; an idle gateway just
	// makes the loop re-check its context at this cadence.
	ReadTick time.Duration
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}

	if o.Port == 0 {
		o.Port = DefaultPort
	}

	if o.MinServerVersion == 0 {
		o.MinServerVersion = MinServerVersion
	}

	if o.DialTimeout == 0 {
		o.DialTimeout = defaultDialTimeout
	}

	if o.ReadTick == 0 {
		o.ReadTick = defaultReadTick
	}

	return o
}
