package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"metasync/internal/http"
	"metasync/pkg/cluster"
	"metasync/pkg/replication"
	"metasync/pkg/rpc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logger)

	peer, err := cfg.Sync.Peer()
	if err != nil {
		slog.Error("invalid sync configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("metasync starting",
		"node", cfg.Sync.Node, "peer", peer, "role", cfg.Sync.Role,
		"data_dir", cfg.Sync.DataDir)

	client := rpc.NewClient(peer)
	node, err := replication.NewNode(cfg.Sync, client)
	if err != nil {
		slog.Error("create replication node", "error", err)
		os.Exit(1)
	}

	// Встраивающий metadata server ставит сюда настоящую state machine;
	// standalone-процесс только логирует применяемые записи.
	node.RegisterCallback(func(entry []byte) {
		slog.Debug("apply log entry", "len", len(entry))
	})

	if err := node.Init(); err != nil {
		slog.Error("init replication node", "error", err)
		os.Exit(1)
	}

	_, port, ok := strings.Cut(cfg.Sync.Node, ":")
	if !ok {
		port = fmt.Sprintf("%d", cfg.Server.Port)
	}
	server := http.NewServer(node, port, cfg.Sync.SyncTimeout)
	if err := server.Start(); err != nil {
		slog.Error("start HTTP server", "error", err)
		os.Exit(1)
	}

	// ZooKeeper presence and the operator's promotion relay, optional
	if len(cfg.Zookeeper.Servers) > 0 {
		presence, err := cluster.NewPresence(cfg.Zookeeper.Servers, cfg.Zookeeper.RootPath, cfg.Sync.Node)
		if err != nil {
			slog.Error("connect to ZooKeeper", "error", err)
			os.Exit(1)
		}
		defer presence.Close()

		if err := presence.Announce(cfg.Sync.Role); err != nil {
			slog.Error("announce node in ZooKeeper", "error", err)
			os.Exit(1)
		}
		presence.WatchPromotion(ctx, node.SwitchToLeader)
	}

	<-ctx.Done()

	slog.Info("metasync stopping")
	if err := server.Stop(); err != nil {
		slog.Warn("stop HTTP server", "error", err)
	}
	node.Stop()
	slog.Info("metasync stopped")
}
