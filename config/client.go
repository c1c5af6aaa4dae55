package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
)

// Client defaults
const (
	DefaultSignalURL          = "ws://localhost:7860/ws"
	DefaultSTUN               = "stun:stun.l.google.com:19302"
	DefaultNegotiationTimeout = 45 * time.Second
)

// ClientConfig holds meshclient configuration
type ClientConfig struct {
	SignalURL string
	// APIURL is the HTTP base derived from SignalURL
	APIURL string

	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	NegotiationTimeout time.Duration
	Subprotocol        string
	LogLevel           string
}

// ClientOptions carries CLI flag values; empty fields fall back to env, then defaults
type ClientOptions struct {
	SignalURL          string
	STUNServer         string
	TURNServer         string
	TURNUser           string
	TURNPass           string
	NegotiationTimeout time.Duration
	Codec              string
	LogLevel           string
}

// LoadClient resolves client configuration: CLI flag > environment > default
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	signalURL := firstNonEmpty(opts.SignalURL, getEnv("SIGNAL_URL", DefaultSignalURL))
	apiURL, err := apiBase(signalURL)
	if err != nil {
		return nil, err
	}

	timeout := opts.NegotiationTimeout
	if timeout == 0 {
		timeout = getEnvDuration("NEGOTIATION_TIMEOUT", DefaultNegotiationTimeout)
	}

	subprotocol := models.SubprotocolJSON
	switch codec := firstNonEmpty(opts.Codec, getEnv("CODEC", "json")); codec {
	case "json":
	case "msgpack":
		subprotocol = models.SubprotocolMsgpack
	default:
		return nil, fmt.Errorf("unknown codec %q (want json or msgpack)", codec)
	}

	return &ClientConfig{
		SignalURL:          signalURL,
		APIURL:             apiURL,
		STUNServers:        []string{firstNonEmpty(opts.STUNServer, getEnv("STUN_SERVER", DefaultSTUN))},
		TURNServer:         firstNonEmpty(opts.TURNServer, getEnv("TURN_SERVER", "")),
		TURNUser:           firstNonEmpty(opts.TURNUser, getEnv("TURN_USERNAME", "")),
		TURNPass:           firstNonEmpty(opts.TURNPass, getEnv("TURN_PASSWORD", "")),
		NegotiationTimeout: timeout,
		Subprotocol:        subprotocol,
		LogLevel:           firstNonEmpty(opts.LogLevel, getEnv("LOG_LEVEL", "warn")),
	}, nil
}

// apiBase maps ws://host/ws to http://host and wss:// to https://
func apiBase(signalURL string) (string, error) {
	u, err := url.Parse(signalURL)
	if err != nil {
		return "", fmt.Errorf("invalid signal URL: %w", err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid signal URL scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
