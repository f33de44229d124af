// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/echotools/gamespace/service"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrOutgoingQueueFull = errors.New("outgoing queue full")

// ClientRequest is a message sent by a client over the socket.
type ClientRequest struct {
	Type  string `json:"type"`
	Space string `json:"space,omitempty"`
	Team  string `json:"team,omitempty"`
	World string `json:"world,omitempty"`
}

// ServerEnvelope wraps every packet sent to a client.
type ServerEnvelope struct {
	Type string         `json:"type"`
	Data service.Packet `json:"data"`
}

type socketMetrics interface {
	CountWebsocketOpened(delta int64)
	CountWebsocketClosed(delta int64)
}

func NewSocketWsAcceptor(logger *zap.Logger, config *Config, metrics socketMetrics, host *Host) func(http.ResponseWriter, *http.Request) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  config.Socket.ReadBufferSizeBytes,
		WriteBufferSize: config.Socket.WriteBufferSizeBytes,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		if username == "" {
			http.Error(w, "Missing username", http.StatusBadRequest)
			return
		}
		displayName := r.URL.Query().Get("display_name")

		// Upgrade to WebSocket.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// http.Error is invoked automatically from within the Upgrade function.
			logger.Debug("Could not upgrade to WebSocket", zap.Error(err))
			return
		}

		session := newWsConnection(logger, config.Socket, conn)

		var handle *service.PlayerHandle
		err = host.Do(r.Context(), func() error {
			var err error
			handle, err = host.Connect(session, service.Profile{Username: username, DisplayName: displayName})
			return err
		})
		if err != nil {
			logger.Info("Rejected connection.", zap.String("username", username), zap.Error(err))
			session.closeWithReason(err.Error())
			return
		}

		// Mark the start of the session.
		metrics.CountWebsocketOpened(1)

		session.Consume(host, handle)

		// Mark the end of the session.
		metrics.CountWebsocketClosed(1)
	}
}

// wsConnection is a service.Connection over a websocket. Sends are queued and written
// by a dedicated goroutine so the host never blocks on the network.
type wsConnection struct {
	id     uuid.UUID
	logger *zap.Logger
	config *SocketConfig
	conn   *websocket.Conn

	outgoingCh chan []byte
	stopped    *atomic.Bool
	ctx        context.Context
	cancelFn   context.CancelFunc
}

func newWsConnection(logger *zap.Logger, config *SocketConfig, conn *websocket.Conn) *wsConnection {
	id := uuid.Must(uuid.NewV4())
	ctx, cancelFn := context.WithCancel(context.Background())
	return &wsConnection{
		id:         id,
		logger:     logger.With(zap.String("sid", id.String())),
		config:     config,
		conn:       conn,
		outgoingCh: make(chan []byte, config.OutgoingQueueSize),
		stopped:    atomic.NewBool(false),
		ctx:        ctx,
		cancelFn:   cancelFn,
	}
}

func (s *wsConnection) ID() uuid.UUID {
	return s.id
}

func (s *wsConnection) Send(p service.Packet) error {
	if s.stopped.Load() {
		return errors.New("connection closed")
	}
	payload, err := json.Marshal(ServerEnvelope{Type: p.PacketType(), Data: p})
	if err != nil {
		return err
	}
	select {
	case s.outgoingCh <- payload:
		return nil
	default:
		s.logger.Warn("Could not write message, session outgoing queue full")
		s.cancelFn()
		return ErrOutgoingQueueFull
	}
}

// Consume reads client requests until the connection closes.
func (s *wsConnection) Consume(host *Host, handle *service.PlayerHandle) {
	go s.processOutgoing()

	s.conn.SetReadLimit(s.config.MaxMessageSizeBytes)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.config.GetPongWait())); err != nil {
		s.logger.Warn("Failed to set initial read deadline", zap.Error(err))
		s.close(host, handle)
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.GetPongWait()))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Error reading message from client", zap.Error(err))
			}
			break
		}

		var request ClientRequest
		if err := json.Unmarshal(data, &request); err != nil {
			s.logger.Debug("Received malformed request", zap.Error(err))
			continue
		}

		if err := host.Do(s.ctx, func() error {
			return host.HandleRequest(handle, &request)
		}); err != nil {
			s.logger.Debug("Request failed", zap.String("type", request.Type), zap.Error(err))
			if errors.Is(err, ErrHostStopped) || errors.Is(err, context.Canceled) {
				break
			}
		}
	}

	s.close(host, handle)
}

func (s *wsConnection) processOutgoing() {
	ticker := time.NewTicker(s.config.GetPingPeriod())
	defer ticker.Stop()
	// Unblocks the reader when the writer gives up.
	defer s.conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.GetWriteWait())); err != nil {
				s.cancelFn()
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				s.logger.Debug("Could not send ping", zap.Error(err))
				s.cancelFn()
				return
			}
		case payload := <-s.outgoingCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.GetWriteWait())); err != nil {
				s.cancelFn()
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("Could not write message", zap.Error(err))
				s.cancelFn()
				return
			}
		}
	}
}

func (s *wsConnection) close(host *Host, handle *service.PlayerHandle) {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.cancelFn()

	if err := host.Do(context.Background(), func() error {
		host.Disconnect(handle)
		return nil
	}); err != nil {
		s.logger.Debug("Could not disconnect player", zap.Error(err))
	}

	if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(s.config.GetWriteWait())); err != nil {
		s.logger.Debug("Could not send close message", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Could not close", zap.Error(err))
	}
	s.logger.Info("Closed client connection")
}

func (s *wsConnection) closeWithReason(reason string) {
	s.stopped.Store(true)
	s.cancelFn()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(s.config.GetWriteWait()))
	_ = s.conn.Close()
}
