package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/relaynet"
	"github.com/luciancaetano/relaynet/internal/lifecycle"
	"github.com/luciancaetano/relaynet/internal/logging"
	"github.com/luciancaetano/relaynet/internal/protocol"
	"github.com/luciancaetano/relaynet/internal/queue"
	"github.com/luciancaetano/relaynet/internal/transport"
)

// Handler owns one accepted connection: it performs the join handshake, feeds
// inbound chat into the server inbox and writes outbound frames.
type Handler struct {
	id         string
	conn       transport.Conn
	remoteAddr string
	owner      *Server
	limiter    *rate.Limiter

	// name is written once during the handshake, before the handler becomes
	// visible in the active set.
	name string

	life       lifecycle.Lifecycle
	activating atomic.Bool
	writeMu    sync.Mutex
	log        zerolog.Logger
}

func newHandler(owner *Server, conn transport.Conn) *Handler {
	id := uuid.New().String()
	return &Handler{
		id:         id,
		conn:       conn,
		remoteAddr: conn.RemoteAddr(),
		owner:      owner,
		limiter:    owner.cfg.RateLimit.newLimiter(),
		log: owner.log.With().
			Str(logging.FieldHandlerID, id).
			Str(logging.FieldRemoteAddr, logging.Censor(conn.RemoteAddr(), 2)).
			Logger(),
	}
}

func (h *Handler) ID() string            { return h.id }
func (h *Handler) Name() string          { return h.name }
func (h *Handler) RemoteAddr() string    { return h.remoteAddr }
func (h *Handler) State() relaynet.State { return h.life.Current() }
func (h *Handler) String() string        { return "Handler<" + h.id + ">" }

// Done is closed once the handler has terminated or failed its handshake.
func (h *Handler) Done() <-chan struct{} { return h.life.Done() }

func (h *Handler) isActive() bool { return h.life.IsActive() }

func (h *Handler) limiterAllows() bool {
	return h.limiter == nil || h.limiter.Allow()
}

// Activate reads the join announcement, registers the handler with its server,
// queues the join notice and starts the receive loop. A connection that does
// not announce itself within the join timeout is closed.
func (h *Handler) Activate(ctx context.Context) error {
	if !h.activating.CompareAndSwap(false, true) {
		h.log.Warn().Msg("handler already activated")
		return relaynet.ErrAlreadyActive
	}

	name, err := h.handshake(ctx)
	if err != nil {
		h.abort()
		return fmt.Errorf("join handshake: %w", err)
	}
	h.name = name
	h.log = h.log.With().Str(logging.FieldName, name).Logger()

	if !h.owner.register(h) {
		h.abort()
		return fmt.Errorf("register %s: server %w", name, relaynet.ErrNotActive)
	}

	h.owner.publish(protocol.NewCommand(name, protocol.CmdJoin), h)
	h.log.Info().Msg("handler activated")
	if h.owner.cfg.OnJoin != nil {
		h.owner.cfg.OnJoin(h)
	}

	h.owner.group.Go(h.receive)
	return nil
}

func (h *Handler) handshake(ctx context.Context) (string, error) {
	deadline := time.Now().Add(h.owner.cfg.JoinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = h.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	body, err := h.conn.ReadFrame()
	if err != nil {
		return "", err
	}
	if err := h.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}

	msg, err := protocol.Decode(body)
	if err != nil {
		return "", err
	}
	if cmd, ok := msg.Command(); !ok || cmd != protocol.CmdJoin || msg.Kind != protocol.KindChat {
		return "", fmt.Errorf("%w: first frame was %q", relaynet.ErrInvalidJoin, msg.Payload)
	}
	name := strings.TrimSpace(msg.Sender)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", relaynet.ErrInvalidJoin)
	}
	notice := protocol.NewSystem(fmt.Sprintf(relaynet.JoinedFormat, name))
	if h.encodedSize(notice) > h.owner.cfg.MaxFrameSize {
		return "", fmt.Errorf("%w: name too long", relaynet.ErrInvalidJoin)
	}
	return name, nil
}

// abort closes a connection that never made it into the active set.
func (h *Handler) abort() {
	if h.life.Fail() {
		_ = h.conn.Close()
	}
}

// Send encodes msg and writes it to the peer.
func (h *Handler) Send(msg relaynet.Message) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", relaynet.ErrMsgFailedToEncode, err)
	}
	return h.write(body)
}

// write sends one encoded body. Writes are serialized per handler; a failed
// write shuts the handler down unless the body itself was unsendable.
func (h *Handler) write(body []byte) error {
	h.writeMu.Lock()
	if !h.isActive() {
		h.writeMu.Unlock()
		return relaynet.ErrNotActive
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(h.owner.cfg.WriteTimeout))
	err := h.conn.WriteFrame(body)
	h.writeMu.Unlock()

	if err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrEmptyFrame) {
			h.log.Warn().Err(err).Msg("frame not sent")
			return err
		}
		if h.isActive() {
			h.log.Warn().Err(err).Msg("write failed, shutting handler down")
		}
		h.Shutdown()
		return err
	}
	return nil
}

func (h *Handler) receive() error {
	defer h.Shutdown()

	for {
		body, err := h.conn.ReadFrame()
		if err != nil {
			h.logReadError(err)
			return nil
		}

		msg, err := protocol.Decode(body)
		if err != nil {
			h.log.Warn().Err(err).Msg("undecodable frame, closing connection")
			return nil
		}
		if msg.Kind != protocol.KindChat {
			h.log.Warn().Stringer("kind", msg.Kind).Msg("ignoring non-chat message from peer")
			continue
		}
		if !h.limiterAllows() {
			h.log.Warn().Str(logging.FieldMessageID, msg.ID).Msg("rate limit exceeded, message dropped")
			continue
		}

		h.restamp(&msg)

		if cmd, ok := msg.Command(); ok {
			switch cmd {
			case protocol.CmdQuit:
				h.log.Debug().Msg("peer announced quit")
				return nil
			case protocol.CmdJoin:
				h.log.Debug().Msg("ignoring repeated join")
				continue
			}
		}

		if !h.fits(msg) {
			continue
		}

		if err := h.owner.inbox.Push(envelope{msg: msg, origin: h}); err != nil {
			if errors.Is(err, queue.ErrClosed) {
				// the server is shutting down and will close this connection
				// after the sentinel
				h.log.Debug().Str(logging.FieldMessageID, msg.ID).Msg("inbox closed, message dropped")
				continue
			}
			h.log.Warn().Err(err).Str(logging.FieldMessageID, msg.ID).Msg("inbox full, message dropped")
		}
	}
}

// fits reports whether msg, encoded as the server relays it, stays within the
// frame limit. An oversized message is answered with a directed notice.
func (h *Handler) fits(msg protocol.Message) bool {
	size := h.encodedSize(msg)
	if size < 0 {
		return false
	}
	limit := h.owner.cfg.MaxFrameSize
	if size <= limit {
		return true
	}
	h.log.Warn().
		Str(logging.FieldMessageID, msg.ID).
		Int("size", size).
		Msg(relaynet.ErrMsgMessageTooLarge)
	_ = h.Send(protocol.NewSystem(fmt.Sprintf(relaynet.TooLargeFormat, size, limit)))
	return false
}

// encodedSize returns the body length of msg, or -1 if it cannot be encoded.
func (h *Handler) encodedSize(msg protocol.Message) int {
	body, err := protocol.Encode(msg)
	if err != nil {
		h.log.Warn().Err(err).Str(logging.FieldMessageID, msg.ID).Msg(relaynet.ErrMsgFailedToEncode)
		return -1
	}
	return len(body)
}

// restamp pins the sender to the handshake name and keeps the creation time
// from lying in the future.
func (h *Handler) restamp(msg *protocol.Message) {
	msg.Sender = h.name
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if now := time.Now(); msg.CreatedAt.IsZero() || msg.CreatedAt.After(now) {
		msg.CreatedAt = now
	}
}

func (h *Handler) logReadError(err error) {
	if !h.isActive() || transport.IsClosed(err) {
		h.log.Debug().Err(err).Msg("connection closed")
		return
	}
	h.log.Warn().Err(err).Msg("read failed")
}

// Shutdown leaves the active set, closes the connection and queues the quit
// notice. Only the first call has any effect.
func (h *Handler) Shutdown() {
	if !h.owner.deactivate(h) {
		h.log.Debug().Stringer(logging.FieldState, h.life.Current()).Msg("handler already shut down")
		return
	}

	if err := h.conn.Close(); err != nil && !transport.IsClosed(err) {
		h.log.Debug().Err(err).Msg("close failed")
	}
	h.owner.publish(protocol.NewCommand(h.name, protocol.CmdQuit), h)
	h.life.Finish()

	h.log.Info().Msg("handler shut down")
	if h.owner.cfg.OnLeave != nil {
		h.owner.cfg.OnLeave(h)
	}
}
