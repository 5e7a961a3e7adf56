package config

import (
	"fmt"
	"time"
)

// Node roles. The role is assigned by the operator; the process never
// decides it on its own.
const (
	RoleMaster = "master"
	RoleSlave  = "slave"
)

// Config - корневая структура конфигурации приложения
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Server    ServerConfig    `yaml:"http-server"`
	Sync      SyncConfig      `yaml:"sync"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// SyncConfig describes the replication pair and the core's timing knobs.
type SyncConfig struct {
	// Nodes lists both members of the pair as "host:port" addresses.
	Nodes []string `yaml:"nodes"`
	// Node is this process's own address and must appear in Nodes.
	Node string `yaml:"node"`
	// Role is the initial role, "master" or "slave".
	Role    string `yaml:"role"`
	DataDir string `yaml:"data_dir"`

	// SyncTimeout is the default wait of the HTTP write endpoint.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	// AsyncTimeout bounds how long an async completion may stay pending
	// before it fires anyway and the node degrades to master-only mode.
	AsyncTimeout time.Duration `yaml:"async_timeout"`
	// RetryInterval is the backoff between replication transport retries.
	RetryInterval time.Duration `yaml:"retry_interval"`
	// StatusInterval is the period of the status line and the applied
	// checkpoint write.
	StatusInterval time.Duration `yaml:"status_interval"`
}

type ZookeeperConfig struct {
	Servers  []string `yaml:"servers"`
	RootPath string   `yaml:"root_path"`
}

// Peer returns the other node of the pair by elimination.
func (c SyncConfig) Peer() (string, error) {
	if len(c.Nodes) != 2 {
		return "", fmt.Errorf("sync.nodes must list exactly two nodes, got %d", len(c.Nodes))
	}
	switch c.Node {
	case c.Nodes[0]:
		return c.Nodes[1], nil
	case c.Nodes[1]:
		return c.Nodes[0], nil
	}
	return "", fmt.Errorf("node %q does not belong to this cluster", c.Node)
}

func (c SyncConfig) IsMaster() bool {
	return c.Role == RoleMaster
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "DEBUG",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Sync: SyncConfig{
			Nodes:          []string{"127.0.0.1:8080", "127.0.0.1:8081"},
			Node:           "127.0.0.1:8080",
			Role:           RoleMaster,
			DataDir:        "./data",
			SyncTimeout:    time.Second,
			AsyncTimeout:   10 * time.Second,
			RetryInterval:  5 * time.Second,
			StatusInterval: 5 * time.Second,
		},
		Zookeeper: ZookeeperConfig{
			RootPath: "/metasync",
		},
	}
}
