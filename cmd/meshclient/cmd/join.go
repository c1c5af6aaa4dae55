package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/mesh-signaling/config"
	"github.com/mossy-p/mesh-signaling/internal/logging"
	"github.com/mossy-p/mesh-signaling/internal/mesh"
	"github.com/mossy-p/mesh-signaling/internal/tui"
	"github.com/spf13/cobra"
)

const (
	dialTimeout = 10 * time.Second
	joinTimeout = 30 * time.Second
	streamID    = "meshclient"
)

var (
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagTimeout  time.Duration
	flagHeadless bool
	flagVideo    string
	flagAudio    string
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room, or create one when no id is given",
	Long: `Join a room and connect to every other member.

Without a room id a new room is created and its id is shown so others can
join. Media comes from --video (IVF, VP8) and --audio (Ogg, Opus) when
given, otherwise silent tracks are sent.

Examples:
  meshclient join
  meshclient join 3f9a1c2e
  meshclient join 3f9a1c2e --video sample.ivf --audio sample.ogg
  meshclient join --headless --codec msgpack 3f9a1c2e`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&flagSTUN, "stun", "", "STUN server URL")
	f.StringVar(&flagTURN, "turn", "", "TURN server URL")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.DurationVar(&flagTimeout, "timeout", 0, "fail a peer link that is not connected in time (default 45s, negative disables)")
	f.BoolVar(&flagHeadless, "headless", false, "log events instead of showing the interactive view")
	f.StringVar(&flagVideo, "video", "", "IVF file to loop as the video track")
	f.StringVar(&flagAudio, "audio", "", "Ogg Opus file to loop as the audio track")
}

func clientOptions() config.ClientOptions {
	return config.ClientOptions{
		SignalURL:          flagSignalURL,
		STUNServer:         flagSTUN,
		TURNServer:         flagTURN,
		TURNUser:           flagTURNUser,
		TURNPass:           flagTURNPass,
		NegotiationTimeout: flagTimeout,
		Codec:              flagCodec,
		LogLevel:           flagLogLevel,
	}
}

func mediaSource() mesh.MediaSource {
	if flagVideo == "" && flagAudio == "" {
		return mesh.SilentSource{StreamID: streamID}
	}
	return mesh.SampleSource{StreamID: streamID, VideoPath: flagVideo, AudioPath: flagAudio}
}

func joinRoom(ctx context.Context, roomID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadClient(clientOptions())
	if err != nil {
		return err
	}
	logger := logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	sig, err := mesh.Dial(dialCtx, cfg.SignalURL, cfg.Subprotocol, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.SignalURL, err)
	}

	factory, err := mesh.NewPionFactory(cfg)
	if err != nil {
		sig.Close()
		return err
	}

	timeout := cfg.NegotiationTimeout
	if timeout < 0 {
		timeout = 0
	}

	var observer mesh.Observer
	var view *tui.Observer
	if flagHeadless {
		observer = mesh.NewLogObserver(logger)
	} else {
		view = tui.NewObserver()
		observer = view
	}

	orch := mesh.NewOrchestrator(mesh.Options{
		Signaler:           sig,
		Factory:            factory,
		Source:             mediaSource(),
		Observer:           observer,
		NegotiationTimeout: timeout,
		Logger:             logger,
	})
	defer orch.Close()

	runErr := make(chan error, 1)
	go func() {
		runErr <- orch.Run(ctx)
	}()

	if !flagHeadless {
		return tui.Run(orch, view, roomID)
	}
	return runHeadless(ctx, orch, roomID, runErr, logger)
}

func runHeadless(ctx context.Context, orch *mesh.Orchestrator, roomID string, runErr <-chan error, logger *slog.Logger) error {
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	err := orch.Join(joinCtx, roomID)
	cancel()
	if err != nil {
		return err
	}
	logger.Info("Joined room, press Ctrl+C to leave", "room", orch.Room(), "self", orch.Self())

	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
