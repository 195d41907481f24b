package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/Wyydra/rendezvous/internal/core/domain"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
	"github.com/Wyydra/rendezvous/internal/probe"
)

var (
	flagURL      string
	flagRole     string
	flagGreeting string
	flagTimeout  time.Duration
	flagOnce     bool
	flagSTUN     []string
	flagLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "probe <session-id>",
	Short: "Join a session and negotiate WebRTC data channels through the signaling server",
	Long: `probe connects to a rendezvous server, joins a session as creator or viewer and
performs real WebRTC negotiation with every peer the server pairs it with.

Examples:
  probe S1 --role creator
  probe S1 --role viewer --once`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), args[0])
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagURL, "url", "u", "ws://localhost:8080/ws", "signaling endpoint")
	f.StringVarP(&flagRole, "role", "r", "viewer", "creator or viewer")
	f.StringVar(&flagGreeting, "greeting", "hello from probe", "text the creator sends on each data channel")
	f.DurationVar(&flagTimeout, "timeout", 0, "give up after this long (0 waits until the session ends)")
	f.BoolVar(&flagOnce, "once", false, "viewer exits after the first data channel message")
	f.StringSliceVar(&flagSTUN, "stun", nil, "STUN servers to use instead of the server's ICE configuration")
	f.StringVar(&flagLevel, "log-level", "info", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, sessionID string) error {
	pkglog.Init(pkglog.Config{Level: flagLevel, Pretty: true, ServiceName: "probe"})
	l := pkglog.L()

	role, err := domain.ParseRole(flagRole)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	var servers []webrtc.ICEServer
	if len(flagSTUN) > 0 {
		servers = []webrtc.ICEServer{{URLs: flagSTUN}}
	} else {
		servers, err = probe.FetchICEServers(ctx, flagURL)
		if err != nil {
			l.Warn().Err(err).Msg("using no ICE servers")
		}
	}

	p := probe.New(probe.Options{
		URL:           flagURL,
		SessionID:     sessionID,
		Role:          role,
		ICEServers:    servers,
		Greeting:      flagGreeting,
		ExitOnMessage: flagOnce,
	}, l)

	runErr := p.Run(ctx)

	stats := p.Stats()
	l.Info().
		Int64("peers", stats.Peers).
		Int64("channels_opened", stats.ChannelsOpened).
		Int64("messages", stats.Messages).
		Msg("probe finished")

	if runErr != nil {
		return runErr
	}
	if flagOnce && stats.Messages == 0 {
		return fmt.Errorf("no data channel message received")
	}
	return nil
}
