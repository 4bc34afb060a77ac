package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-service/internal/apperr"
	"chat-service/internal/broadcast"
	"chat-service/internal/callctx"
	"chat-service/internal/models"
)

// session is one client connection. Every request frame is handled on its
// own goroutine; writes are serialized by writeMu.
type session struct {
	srv       *Server
	conn      *websocket.Conn
	userID    uuid.UUID
	initiator string
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	streamsMu sync.Mutex
	streams   map[uint64]context.CancelFunc

	wg sync.WaitGroup
}

func newSession(srv *Server, conn *websocket.Conn, userID uuid.UUID, initiator string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		srv:       srv,
		conn:      conn,
		userID:    userID,
		initiator: initiator,
		log:       srv.log.With().Str("userId", userID.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		streams:   make(map[uint64]context.CancelFunc),
	}
}

func (s *session) run() {
	defer func() {
		s.cancel()
		s.wg.Wait()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.wg.Add(1)
	go s.keepalive()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reject(0, "", "malformed", apperr.WithStatus(http.StatusBadRequest, "Malformed frame", err))
			continue
		}

		if frame.Type == models.FrameCancel {
			s.cancelStream(frame.ID)
			continue
		}

		// Streams are registered here, before the next frame is read, so a
		// cancel that follows immediately always finds its stream.
		parent, release := s.ctx, func() {}
		if frame.Type == models.FrameRequestStream {
			streamCtx, cancel := context.WithCancel(s.ctx)
			if !s.registerStream(frame.ID, cancel) {
				cancel()
				s.reject(frame.ID, frame.Route, frame.Route+"_"+frame.Type,
					apperr.WithStatus(http.StatusBadRequest, "Stream id already in use", nil))
				continue
			}
			id := frame.ID
			parent, release = streamCtx, func() {
				s.unregisterStream(id)
				cancel()
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer release()
			s.handle(parent, frame)
		}()
	}
}

// reject answers a frame that never reaches a route.
func (s *session) reject(id uint64, route, method string, err error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, end := s.begin(s.ctx, method)
		defer end()
		s.fail(ctx, id, route, err)
	}()
}

func (s *session) keepalive() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

// begin opens the call scope of one frame.
func (s *session) begin(parent context.Context, method string) (context.Context, func()) {
	return callctx.Begin(parent, s.srv.log, callctx.Fields{
		UserID:           s.userID.String(),
		InitiatorService: s.initiator,
		Method:           method,
	})
}

func (s *session) handle(parent context.Context, frame models.Frame) {
	ctx, end := s.begin(parent, frame.Route+"_"+frame.Type)
	defer end()

	rt, ok := s.srv.routes[frame.Route]
	switch {
	case !ok:
		s.fail(ctx, frame.ID, frame.Route, apperr.WithStatus(http.StatusBadRequest, "Unknown route "+frame.Route, nil))
		return
	case rt.model != frame.Type:
		s.fail(ctx, frame.ID, frame.Route, apperr.WithStatus(http.StatusBadRequest,
			"Route "+frame.Route+" expects "+rt.model, nil))
		return
	}

	if rt.model == models.FrameRequestStream {
		s.serveStream(ctx, frame, rt)
		return
	}

	result, err := rt.respond(ctx, s, frame.Data)
	if err != nil {
		s.fail(ctx, frame.ID, frame.Route, err)
		return
	}
	s.srv.metrics.RecordFrame(frame.Route, "ok")
	s.write(models.ReplyFrame{ID: frame.ID, Type: models.FramePayload, Data: result})
}

// serveStream runs a stream registered by run. ctx is cancelled by a cancel
// frame or by the connection closing; either ends the stream silently.
func (s *session) serveStream(ctx context.Context, frame models.Frame, rt route) {
	sub, err := rt.stream(ctx, s, frame.Data)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, frame.ID, frame.Route, err)
		return
	}
	defer func() {
		sub.Close()
		if missed := sub.Missed(); missed > 0 {
			callctx.Logger(ctx).Warn().Uint64("missed", missed).Msg("stream skipped messages it fell behind on")
		}
	}()
	s.srv.metrics.RecordFrame(frame.Route, "ok")

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, broadcast.ErrClosed) {
				s.write(models.ReplyFrame{ID: frame.ID, Type: models.FrameComplete})
				return
			}
			s.fail(ctx, frame.ID, frame.Route, err)
			return
		}
		if err := s.write(models.ReplyFrame{ID: frame.ID, Type: models.FrameNext, Data: msg}); err != nil {
			return
		}
	}
}

func (s *session) registerStream(id uint64, cancel context.CancelFunc) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if _, exists := s.streams[id]; exists {
		return false
	}
	s.streams[id] = cancel
	return true
}

func (s *session) unregisterStream(id uint64) {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	delete(s.streams, id)
}

func (s *session) cancelStream(id uint64) {
	s.streamsMu.Lock()
	cancel, ok := s.streams[id]
	s.streamsMu.Unlock()
	if ok {
		cancel()
	}
}

// fail translates err, logs it with the call scope and sends an error frame.
func (s *session) fail(ctx context.Context, id uint64, route string, err error) {
	e := apperr.Translate(err, route)
	apperr.Log(ctx, e)
	s.srv.metrics.RecordError(string(e.Kind))
	s.srv.metrics.RecordFrame(route, "error")

	res := apperr.Serialize(e)
	s.write(models.ReplyFrame{
		ID:     id,
		Type:   models.FrameError,
		Error:  &res.Body,
		Status: res.Status,
	})
}

func (s *session) write(frame models.ReplyFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.log.Debug().Err(err).Uint64("frameId", frame.ID).Msg("websocket write failed")
		s.cancel()
		s.conn.Close()
		return err
	}
	return nil
}
