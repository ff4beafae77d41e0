// Package client is a headless participant: it logs in over REST, joins over
// the signaling WebSocket and feeds the server's messages to a mesh controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/gridvoice/internal/core"
	"github.com/dkeye/gridvoice/internal/domain"
	"github.com/dkeye/gridvoice/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrEvicted      = errors.New("evicted by a newer join")
	ErrNotConnected = errors.New("not connected")
	ErrRejected     = errors.New("join rejected")
)

// Mesh receives what the server tells this participant.
type Mesh interface {
	SetSelf(id core.ConnID)
	OnRoster(users []core.RosterEntry)
	OnSignal(from core.ConnID, sig protocol.Signal)
}

type Options struct {
	Server   string // base URL, e.g. http://localhost:8080
	Email    string
	Name     string
	AvatarID domain.AvatarID
	Start    domain.Position
	GridSize int
	Queue    int
}

type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger

	token string
	ws    *websocket.Conn
	send  chan []byte

	mu     sync.Mutex
	mesh   Mesh
	self   core.ConnID
	grid   domain.Grid
	pos    domain.Position
	closed bool
}

func New(opts Options) (*Client, error) {
	if _, err := url.Parse(opts.Server); err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		logger: log.With().Str("module", "client").Str("email", opts.Email).Logger(),
		send:   make(chan []byte, opts.Queue),
		grid:   domain.NewGrid(opts.GridSize),
		pos:    opts.Start,
	}, nil
}

// SetMesh must be called before Run.
func (c *Client) SetMesh(m Mesh) {
	c.mu.Lock()
	c.mesh = m
	c.mu.Unlock()
}

type loginResponse struct {
	Token string             `json:"token"`
	User  domain.Participant `json:"user"`
	Error string             `json:"error"`
}

// Login obtains a session token. The session cookie is kept in the jar too.
func (c *Client) Login(ctx context.Context) (domain.Participant, error) {
	body, err := json.Marshal(map[string]string{"email": c.opts.Email, "name": c.opts.Name})
	if err != nil {
		return domain.Participant{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.opts.Server, "/")+"/api/login", bytes.NewReader(body))
	if err != nil {
		return domain.Participant{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Participant{}, fmt.Errorf("login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Participant{}, fmt.Errorf("login: %s: %s", resp.Status, out.Error)
	}
	c.token = out.Token
	c.log().Info().Str("participant", string(out.User.ID)).Msg("logged in")
	return out.User, nil
}

// Connect opens the signaling socket.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(strings.TrimRight(c.opts.Server, "/") + "/api/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	d := websocket.Dialer{Jar: c.http.Jar, HandshakeTimeout: 10 * time.Second, EnableCompression: true}
	ws, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	c.ws = ws
	return nil
}

// Run joins and then pumps the socket until ctx is done, the server closes
// the socket or this participant is evicted.
func (c *Client) Run(ctx context.Context) error {
	if c.ws == nil {
		return ErrNotConnected
	}
	defer c.shutdown()

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error { return c.writePump(ctx) })
	p.Go(func(ctx context.Context) error { return c.readPump(ctx) })
	p.Go(func(ctx context.Context) error {
		<-ctx.Done()
		_ = c.ws.Close()
		return nil
	})
	err := p.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) join() error {
	c.mu.Lock()
	pos := c.pos
	c.mu.Unlock()
	return c.enqueue(protocol.Join{Type: protocol.TypeJoin, Token: c.token, AvatarID: c.opts.AvatarID, Position: pos})
}

// Move steps by (dx, dy), clamped to the grid, and reports the new position.
func (c *Client) Move(dx, dy int) (domain.Position, error) {
	c.mu.Lock()
	next := c.grid.Step(c.pos, dx, dy)
	changed := next != c.pos
	c.pos = next
	c.mu.Unlock()
	if !changed {
		return next, nil
	}
	return next, c.enqueue(protocol.Move{Type: protocol.TypeMove, Position: next})
}

func (c *Client) Position() domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// log returns the current logger; it gains the connection id on welcome.
func (c *Client) log() *zerolog.Logger {
	c.mu.Lock()
	l := c.logger
	c.mu.Unlock()
	return &l
}

func (c *Client) Self() core.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// SendSignal relays a handshake fragment to another connection.
func (c *Client) SendSignal(to core.ConnID, sig protocol.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return c.enqueue(protocol.SignalTo{Type: protocol.TypeSignal, To: to, Signal: raw})
}

func (c *Client) enqueue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}
