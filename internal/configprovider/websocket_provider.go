// SPDX-License-Identifier: AGPL-3.0-or-later

package configprovider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/couchkit/internal/clustertopo"
	"github.com/tomtom215/couchkit/internal/logging"
)

// wireMessage is the JSON envelope exchanged with the management
// endpoint: either a client->server subscription control message or a
// server->client config push.
type wireMessage struct {
	Type   string                     `json:"type"`
	Bucket string                     `json:"bucket,omitempty"`
	Config *clustertopo.ClusterConfig `json:"config,omitempty"`
}

const (
	wireTypeSubscribe   = "subscribe"
	wireTypeUnsubscribe = "unsubscribe"
	wireTypeRefresh     = "refresh_global"
	wireTypeConfig      = "config"
)

// WebSocketProvider streams ClusterConfig pushes from a management
// endpoint over a gorilla/websocket connection — this module's closest
// analogue to CCCP streaming config push. Its reconnect-and-resubscribe
// loop runs a priority select (control messages before data) driving a
// single connection, restarted by the supervisor tree on failure.
type WebSocketProvider struct {
	url    string
	dialer *websocket.Dialer
	cache  *SnapshotCache // optional; nil disables last-known-good caching

	mu      sync.Mutex
	current *clustertopo.ClusterConfig
	active  map[string]bool

	ch        chan *clustertopo.ClusterConfig
	openCh    chan string
	closeCh   chan string
	refreshCh chan struct{}

	reconnectLimit *rate.Limiter
}

// NewWebSocketProvider returns a provider that will dial url once Serve
// runs. cache may be nil.
func NewWebSocketProvider(url string, cache *SnapshotCache) *WebSocketProvider {
	return &WebSocketProvider{
		url:            url,
		dialer:         websocket.DefaultDialer,
		cache:          cache,
		active:         make(map[string]bool),
		ch:             make(chan *clustertopo.ClusterConfig, 1),
		openCh:         make(chan string, 16),
		closeCh:        make(chan string, 16),
		refreshCh:      make(chan struct{}, 1),
		reconnectLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Configs implements Provider.
func (p *WebSocketProvider) Configs() <-chan *clustertopo.ClusterConfig { return p.ch }

// Config implements Provider, falling back to the last-known-good cache
// when no live snapshot has arrived yet.
func (p *WebSocketProvider) Config() *clustertopo.ClusterConfig {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()
	if cur != nil {
		return cur
	}
	if p.cache != nil {
		if snap, ok := p.cache.Load(); ok {
			return snap
		}
	}
	return nil
}

// OpenBucket implements Provider: records the bucket as active and, once
// connected, sends a subscribe control message.
func (p *WebSocketProvider) OpenBucket(ctx context.Context, name string) error {
	p.mu.Lock()
	p.active[name] = true
	p.mu.Unlock()
	select {
	case p.openCh <- name:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseBucket implements Provider.
func (p *WebSocketProvider) CloseBucket(ctx context.Context, name string) error {
	p.mu.Lock()
	delete(p.active, name)
	p.mu.Unlock()
	select {
	case p.closeCh <- name:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadAndRefreshGlobalConfig implements Provider.
func (p *WebSocketProvider) LoadAndRefreshGlobalConfig(ctx context.Context) error {
	select {
	case p.refreshCh <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown implements Provider; Serve observes ctx cancellation and
// returns, so Shutdown here just waits out the grace period given by ctx.
func (p *WebSocketProvider) Shutdown(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Serve implements suture.Service: dial, run the connection until it
// fails or ctx is cancelled, and reconnect no more than once per second.
// Suture itself also restarts Serve on an unexpected return, but looping
// here lets an active bucket set survive a single dropped connection
// without a full supervisor-level restart. reconnectLimit caps the retry
// rate so a management endpoint that refuses the dial instantly (rather
// than timing out) can't spin this loop hot.
func (p *WebSocketProvider) Serve(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.reconnectLimit.Wait(ctx); err != nil {
			return ctx.Err()
		}

		conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
		if err != nil {
			logging.Warn().Err(err).Str("url", p.url).Msg("config stream dial failed")
			continue
		}

		if err := p.runConnection(ctx, conn); err != nil {
			logging.Warn().Err(err).Msg("config stream connection ended")
		}
	}
}

func (p *WebSocketProvider) runConnection(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	msgCh := make(chan wireMessage)
	errCh := make(chan error, 1)
	go func() {
		for {
			var msg wireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	p.mu.Lock()
	for name := range p.active {
		_ = conn.WriteJSON(wireMessage{Type: wireTypeSubscribe, Bucket: name})
	}
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-p.openCh:
			if err := conn.WriteJSON(wireMessage{Type: wireTypeSubscribe, Bucket: name}); err != nil {
				return fmt.Errorf("configprovider: subscribe %s: %w", name, err)
			}
		case name := <-p.closeCh:
			if err := conn.WriteJSON(wireMessage{Type: wireTypeUnsubscribe, Bucket: name}); err != nil {
				return fmt.Errorf("configprovider: unsubscribe %s: %w", name, err)
			}
		case <-p.refreshCh:
			if err := conn.WriteJSON(wireMessage{Type: wireTypeRefresh}); err != nil {
				return fmt.Errorf("configprovider: refresh global config: %w", err)
			}
		case msg := <-msgCh:
			if msg.Type != wireTypeConfig || msg.Config == nil {
				continue
			}
			p.mu.Lock()
			p.current = msg.Config
			p.mu.Unlock()
			if p.cache != nil {
				if err := p.cache.Store(msg.Config); err != nil {
					logging.Warn().Err(err).Msg("failed to persist config snapshot")
				}
			}
			p.publishLatest(msg.Config)
		case err := <-errCh:
			return err
		}
	}
}

// publishLatest pushes snap onto the single-slot hot channel, dropping
// any unread prior value — readers only ever care about the current
// config, not a backlog of superseded ones.
func (p *WebSocketProvider) publishLatest(snap *clustertopo.ClusterConfig) {
	select {
	case <-p.ch:
	default:
	}
	p.ch <- snap
}
