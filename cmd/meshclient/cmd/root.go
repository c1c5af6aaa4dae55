package cmd

import (
	"os"

	"github.com/mossy-p/mesh-signaling/internal/tui"
	"github.com/spf13/cobra"
)

var (
	flagSignalURL string
	flagCodec     string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "meshclient",
	Short: "Join a full-mesh WebRTC room from the terminal",
	Long: `meshclient connects to a mesh signaling hub, joins a room and negotiates a
direct peer connection with every other member.

Configuration is taken from flags, then the environment (SIGNAL_URL,
STUN_SERVER, TURN_SERVER, TURN_USERNAME, TURN_PASSWORD, NEGOTIATION_TIMEOUT,
CODEC, LOG_LEVEL), then defaults.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagSignalURL, "signal-url", "", "hub websocket URL (default ws://localhost:7860/ws)")
	pf.StringVar(&flagCodec, "codec", "", "signaling codec: json or msgpack")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

// Execute runs the root command. It is called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}
}
