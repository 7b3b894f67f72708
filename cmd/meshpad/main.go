package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/services"
	signalclient "meshpad/internal/infrastructure/signal"
	"meshpad/internal/infrastructure/stun"
	webrtcinfra "meshpad/internal/infrastructure/webrtc"
	"meshpad/pkg/config"
	"meshpad/pkg/logger"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// relayProbeInterval is how often the relay directory re-checks
// server reachability while the session runs.
const relayProbeInterval = 5 * time.Minute

func main() {
	var (
		configPath  = flag.String("config", "", "path to a config file; the usual locations are tried when empty")
		sessionID   = flag.String("session", "", "session id to join; empty hosts a new session")
		displayName = flag.String("name", "", "display name shown to other participants")
		serverURL   = flag.String("server", "", "signaling server url, overrides the configured one")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if *serverURL != "" {
		cfg.Session.ServerURL = *serverURL
	}
	if *displayName != "" {
		cfg.Session.DisplayName = *displayName
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Relay reachability is probed out of band; links only need the
	// availability verdict to pick their fallback behavior.
	relayURLs := make([]string, 0)
	for _, server := range cfg.WebRTC.ICEServers {
		relayURLs = append(relayURLs, server.URLs...)
	}
	prober := stun.NewProber(cfg.WebRTC.ProbeTimeout, log)
	directory := services.NewRelayDirectory(prober, relayURLs, log)

	var iceServers []webrtc.ICEServer
	for _, server := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	webrtcCfg := webrtcinfra.Config{
		ICEServers:    iceServers,
		StatsInterval: cfg.Session.StatsInterval,
	}
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	// The orchestrator is the connector's event sink, so the sink is
	// bound right after both exist and before any link is dialed.
	connector := webrtcinfra.NewConnector(webrtcCfg, nil, log)

	transport := signalclient.NewClient(signalclient.ClientConfig{
		ServerURL:          cfg.Session.ServerURL,
		ConnectTimeout:     cfg.Session.ConnectTimeout,
		ReconnectAttempts:  cfg.Session.TransportAttempts,
		ReconnectBaseDelay: cfg.Session.TransportBaseDelay,
		ReconnectMaxDelay:  cfg.Session.TransportMaxDelay,
		SendQueueSize:      cfg.Signal.SendQueueSize,
	}, log)

	linkCfg := services.DefaultLinkTrackerConfig()
	if cfg.Session.MaxReconnectAttempts > 0 {
		linkCfg.MaxReconnectAttempts = cfg.Session.MaxReconnectAttempts
	}

	orch := services.NewSessionOrchestrator(services.SessionConfig{
		SessionID:   domain.SessionID(*sessionID),
		DisplayName: cfg.Session.DisplayName,
		Link:        linkCfg,
	}, transport, connector, nil, log)
	connector.SetEvents(orch)

	directory.Start(ctx, relayProbeInterval, func(has bool) {
		orch.SetHasRelayServers(has)
	})

	orch.SubscribeEvents(func(ev services.SessionEvent) {
		switch ev.Kind {
		case services.SessionEventPeerJoined:
			log.Infow("peer joined", "peer_id", ev.PeerID, "name", ev.Name)
		case services.SessionEventPeerLeft:
			log.Infow("peer left", "peer_id", ev.PeerID)
		case services.SessionEventHostChanged:
			log.Infow("host changed", "peer_id", ev.PeerID)
		case services.SessionEventRoomFull:
			log.Errorw("session has no free slots", "session_id", orch.SessionID())
		case services.SessionEventSignalLost:
			log.Warnw("signaling connection lost", "reason", ev.Reason)
		case services.SessionEventSignalBack:
			log.Infow("signaling connection restored")
		case services.SessionEventError:
			log.Errorw("session error", "reason", ev.Reason)
		}
	})

	orch.SubscribeLinks(func(info domain.PeerLinkInfo) {
		log.Infow("peer link changed",
			"peer_id", info.PeerID,
			"state", info.State,
			"connection_type", info.ConnectionType,
			"attempt", info.RetryAttempt,
		)
	})

	if err := orch.Join(ctx); err != nil {
		log.Fatalw("failed to join session", "error", err)
	}

	if orch.IsHost() {
		fmt.Printf("Hosting session %s\nShare this id to invite others.\n", orch.SessionID())
	} else {
		fmt.Printf("Joined session %s as %s\n", orch.SessionID(), cfg.Session.DisplayName)
	}

	if cfg.Session.StatsInterval > 0 {
		go reportStats(ctx, orch, cfg.Session.StatsInterval, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Infow("received shutdown signal", "signal", sig)

	orch.Leave()
	cancel()
	log.Info("session closed")
}

// loadConfig tries the explicit path first and falls back to the usual
// locations. A missing file yields defaults; a broken one is an error.
func loadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.Load(explicit)
	}

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/meshpad/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			return cfg, nil
		}
	}
	return config.DefaultConfig(), nil
}

func reportStats(ctx context.Context, orch *services.SessionOrchestrator, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := orch.Stats()
			if stats.PeerCount == 0 {
				continue
			}
			log.Infow("session stats",
				"peers", stats.PeerCount,
				"connected", stats.ConnectedPeers,
				"avg_latency_ms", stats.AvgLatencyMs,
				"worst_quality", stats.WorstQuality,
			)
		case <-ctx.Done():
			return
		}
	}
}
