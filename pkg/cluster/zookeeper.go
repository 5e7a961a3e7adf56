package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	sessionTimeout = 5 * time.Second
	connectWait    = 10 * time.Second
	rewatchDelay   = 2 * time.Second
)

// Presence announces this node in ZooKeeper and relays the operator's
// promotion signal. Nothing here elects anyone: writing a node address
// into <root>/leader is an administrative action, the watcher only
// delivers it.
type Presence struct {
	conn *zk.Conn
	root string
	self string // own "host:port" address
}

func NewPresence(servers []string, root, self string) (*Presence, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return &Presence{conn: conn, root: root, self: self}, nil
}

func (p *Presence) Close() {
	p.conn.Close()
}

// Announce creates the ephemeral presence znode for this node, with the
// current role as its data. It blocks until the ZK session is live so a
// registration attempt right after Connect does not race the handshake.
func (p *Presence) Announce(role string) error {
	if err := p.awaitSession(connectWait); err != nil {
		return err
	}
	if err := p.createChain(p.root + "/nodes"); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	node := p.root + "/nodes/" + p.self
	_, err := p.conn.Create(node, []byte(role), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create presence znode: %w", err)
	}
	slog.Info("registered in zookeeper", "path", node, "role", role)
	return nil
}

// WatchPromotion watches <root>/leader and calls promote every time its
// content names this node. promote must be idempotent: the same value
// can be observed more than once across watch re-arms.
func (p *Presence) WatchPromotion(ctx context.Context, promote func()) {
	leaderPath := p.root + "/leader"
	go func() {
		for {
			ch, err := p.checkLeader(leaderPath, promote)
			if err != nil {
				slog.Warn("watch leader znode", "error", err)
				select {
				case <-time.After(rewatchDelay):
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case ev := <-ch:
				slog.Debug("zookeeper event", "type", ev.Type, "path", ev.Path)
			case <-ctx.Done():
				slog.Info("promotion watch stopped")
				return
			}
		}
	}()
}

// checkLeader reads the leader znode, fires promote when it names this
// node, and returns a channel that signals the next change. A missing
// znode is not an error: the watch arms on its creation instead.
func (p *Presence) checkLeader(path string, promote func()) (<-chan zk.Event, error) {
	data, _, ch, err := p.conn.GetW(path)
	switch {
	case err == zk.ErrNoNode:
		_, _, ch, err = p.conn.ExistsW(path)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case err != nil:
		return nil, err
	}

	if string(data) == p.self {
		promote()
	}
	return ch, nil
}

// createChain makes every znode along path, tolerating the ones that
// already exist.
func (p *Presence) createChain(path string) error {
	cur := ""
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		_, err := p.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return fmt.Errorf("create %s: %w", cur, err)
		}
	}
	return nil
}

// awaitSession waits for the client to reach a live session state.
func (p *Presence) awaitSession(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		switch st := p.conn.State(); st {
		case zk.StateConnected, zk.StateHasSession:
			return nil
		default:
			if time.Now().After(deadline) {
				return fmt.Errorf("zk session not established after %s, state %v", timeout, st)
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}
