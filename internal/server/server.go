// Package server implements the relay server: listeners that accept
// connections, one Handler per connection, and the dispatch loop that drains
// the shared inbox and fans messages out to every active handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/lifecycle"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/transport"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// envelope carries a message through the inbox together with the handler it
// came from. Only msg is ever written to the wire.
type envelope struct {
	msg    protocol.Message
	origin *Handler
}

// Server implements the relaynet.Server interface
type Server struct {
	cfg Config
	log zerolog.Logger

	listeners []transport.Listener
	ws        *transport.WebSocketListener
	bindErr   error

	mu       sync.RWMutex
	handlers map[string]*Handler

	inbox *queue.Inbox[envelope]
	life  lifecycle.Lifecycle

	ctx          context.Context
	cancel       context.CancelFunc
	stopWatch    func() bool
	group        errgroup.Group
	dispatchDone chan struct{}
}

// New binds the configured listeners. A bind failure does not return an error
// here; the server is marked failed and Activate reports the cause.
func New(cfg Config) *Server {
	cfg.setDefaults()

	s := &Server{
		cfg:          cfg,
		log:          logging.Component(cfg.Logger, "server"),
		handlers:     make(map[string]*Handler),
		inbox:        queue.New[envelope](cfg.Inbox),
		dispatchDone: make(chan struct{}),
	}

	ln, err := transport.Listen(cfg.Addr, cfg.MaxFrameSize)
	if err != nil {
		s.fail(err)
		return s
	}
	s.listeners = append(s.listeners, ln)

	if ws := cfg.WebSocket; ws != nil {
		wsln, err := transport.ListenWebSocket(ws.Addr, transport.WebSocketOptions{
			Path:         ws.Path,
			CheckOrigin:  ws.CheckOrigin,
			MaxFrameSize: cfg.MaxFrameSize,
			PingInterval: ws.PingInterval,
		})
		if err != nil {
			_ = ln.Close()
			s.fail(err)
			return s
		}
		s.ws = wsln
		s.listeners = append(s.listeners, wsln)
	}

	s.log.Debug().Str(logging.FieldListener, s.Addr()).Msg("bound")
	return s
}

func (s *Server) fail(err error) {
	s.bindErr = err
	s.life.Fail()
	s.log.Error().Err(err).Str(logging.FieldListener, s.cfg.Addr).Msg("could not bind")
}

// Err returns the bind error, if construction failed.
func (s *Server) Err() error {
	return s.bindErr
}

// Addr returns the bound TCP address, or the configured one if binding failed.
func (s *Server) Addr() string {
	if len(s.listeners) == 0 {
		return s.cfg.Addr
	}
	return s.listeners[0].Addr()
}

// WebSocketURL returns the gateway URL, or "" when the gateway is disabled.
func (s *Server) WebSocketURL() string {
	if s.ws == nil {
		return ""
	}
	return s.ws.URL()
}

func (s *Server) State() relaynet.State {
	return s.life.Current()
}

// Done is closed once the server has terminated.
func (s *Server) Done() <-chan struct{} {
	return s.life.Done()
}

// Activate starts the dispatch loop and one accept loop per listener.
func (s *Server) Activate(ctx context.Context) error {
	if s.life.Current() == lifecycle.Failed {
		s.log.Error().Msg("failed to activate")
		return fmt.Errorf("%w: %w", relaynet.ErrConstructionFailed, s.bindErr)
	}
	if !s.life.Activate() {
		s.log.Error().Stringer(logging.FieldState, s.life.Current()).Msg("already activated")
		return relaynet.ErrAlreadyActive
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("shutdown")
		}
	})

	s.group.Go(s.dispatchLoop)
	for _, ln := range s.listeners {
		s.group.Go(func() error { return s.acceptLoop(ln) })
	}

	s.log.Info().
		Str(logging.FieldListener, s.Addr()).
		Bool("echo", !s.cfg.NoEcho).
		Str("websocket", s.WebSocketURL()).
		Msg("activated")
	return nil
}

// Serve activates the server and blocks until it has terminated.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Activate(ctx); err != nil {
		return err
	}
	<-s.life.Done()
	return nil
}

func (s *Server) acceptLoop(ln transport.Listener) error {
	log := s.log.With().Str(logging.FieldListener, ln.Addr()).Logger()
	log.Debug().Msg("listen loop started")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.life.IsActive() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("listener closed unexpectedly")
				return nil
			}
			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		h := newHandler(s, conn)
		s.group.Go(func() error {
			if err := h.Activate(s.ctx); err != nil {
				h.log.Debug().Err(err).Msg("connection rejected")
			}
			return nil
		})
	}
}

func (s *Server) dispatchLoop() error {
	defer close(s.dispatchDone)
	s.log.Debug().Msg("serve loop started")

	for {
		env, err := s.inbox.Pop(s.ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || s.ctx.Err() != nil {
				return nil
			}
			s.log.Error().Err(err).Msg("inbox pop failed")
			continue
		}
		s.dispatch(env)
	}
}

// dispatch interprets commands and relays everything else.
func (s *Server) dispatch(env envelope) {
	msg := env.msg

	if cmd, ok := msg.Command(); ok && msg.Kind == protocol.KindChat {
		switch cmd {
		case protocol.CmdJoin:
			s.broadcast(protocol.NewSystem(fmt.Sprintf(relaynet.JoinedFormat, msg.Sender)), nil)
		case protocol.CmdQuit:
			s.broadcast(protocol.NewSystem(fmt.Sprintf(relaynet.QuitFormat, msg.Sender)), nil)
		default:
			if env.origin == nil {
				return
			}
			env.origin.log.Debug().Str(logging.FieldCommand, cmd).Msg("unknown command")
			_ = env.origin.Send(protocol.NewSystem(fmt.Sprintf(relaynet.UnknownCommandFormat, msg.Payload)))
		}
		return
	}

	var skip *Handler
	if s.cfg.NoEcho && msg.Kind == protocol.KindChat {
		skip = env.origin
	}
	s.broadcast(msg, skip)
}

// broadcast writes msg to a snapshot of the active set, skipping one handler
// when skip is non-nil. Writes happen outside the lock.
func (s *Server) broadcast(msg protocol.Message, skip *Handler) {
	body, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Str(logging.FieldMessageID, msg.ID).Msg(relaynet.ErrMsgFailedToEncode)
		return
	}
	if len(body) > s.cfg.MaxFrameSize {
		s.log.Error().Str(logging.FieldMessageID, msg.ID).Int("size", len(body)).Msg(relaynet.ErrMsgMessageTooLarge)
		return
	}

	for _, h := range s.snapshot() {
		if h == skip {
			continue
		}
		_ = h.write(body)
	}
}

func (s *Server) snapshot() []*Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

// register activates h and adds it to the active set in one step.
func (s *Server) register(h *Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.life.IsActive() || !h.life.Activate() {
		return false
	}
	s.handlers[h.id] = h
	return true
}

// deactivate moves h out of Active and out of the active set in one step.
func (s *Server) deactivate(h *Handler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !h.life.BeginShutdown() {
		return false
	}
	delete(s.handlers, h.id)
	return true
}

// publish queues a join or quit notice. Notices bypass the inbox capacity.
func (s *Server) publish(msg protocol.Message, origin *Handler) {
	if err := s.inbox.Inject(envelope{msg: msg, origin: origin}); err != nil {
		s.log.Debug().Err(err).Str(logging.FieldCommand, msg.Payload).Msg("notice not queued")
	}
}

// Announce queues a system notice for every active peer. The shutdown
// sentinel cannot be announced.
func (s *Server) Announce(text string) error {
	if !s.life.IsActive() {
		return relaynet.ErrNotActive
	}
	msg := protocol.NewSystem(text)
	if msg.IsShutdown() {
		return fmt.Errorf("%w: %q", relaynet.ErrReservedPayload, text)
	}
	return s.inbox.Push(envelope{msg: msg})
}

// SendTo delivers msg to one peer.
func (s *Server) SendTo(id string, msg relaynet.Message) error {
	if msg.IsShutdown() {
		return fmt.Errorf("%w: %q", relaynet.ErrReservedPayload, msg.Payload)
	}

	s.mu.RLock()
	h, ok := s.handlers[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", relaynet.ErrPeerNotFound, id)
	}
	return h.Send(msg)
}

// Peers returns a snapshot of the active set.
func (s *Server) Peers() []relaynet.Peer {
	handlers := s.snapshot()
	out := make([]relaynet.Peer, len(handlers))
	for i, h := range handlers {
		out[i] = h
	}
	return out
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Shutdown drains the inbox, broadcasts the shutdown sentinel, shuts every
// handler down and closes the listeners, then waits for all goroutines.
// The server reaches Terminated even if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.life.Transition(lifecycle.Created, lifecycle.Terminated) {
		// never activated: only the bound listeners need releasing
		s.inbox.Close()
		s.closeListeners()
		return nil
	}
	if !s.life.BeginShutdown() {
		if s.life.Current() == lifecycle.Failed {
			return nil
		}
		s.log.Debug().Stringer(logging.FieldState, s.life.Current()).Msg("already shut down")
		select {
		case <-s.life.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer s.life.Finish()

	s.log.Info().Int("peers", s.Count()).Msg("shutting down")
	s.stopWatch()

	// Everything queued before shutdown is still delivered ahead of the sentinel.
	s.inbox.Close()
	select {
	case <-s.dispatchDone:
	case <-ctx.Done():
		s.log.Warn().Msg("dispatch loop did not drain in time")
	}

	s.broadcast(protocol.NewShutdown(), nil)
	for _, h := range s.snapshot() {
		h.Shutdown()
	}
	s.closeListeners()
	s.cancel()

	waited := make(chan error, 1)
	go func() { waited <- s.group.Wait() }()

	select {
	case err := <-waited:
		s.log.Info().Msg("shut down")
		return err
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown timed out waiting for goroutines")
		return ctx.Err()
	}
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil {
			s.log.Debug().Err(err).Str(logging.FieldListener, ln.Addr()).Msg("close listener")
		}
	}
}
