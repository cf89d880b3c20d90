package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// parseTokens reads ?token=1,2&token=3 into a token filter.
func parseTokens(values []string) ([]uint32, error) {
	var tokens []uint32
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, uint32(n))
		}
	}
	return tokens, nil
}

// events streams hub events to a websocket client until either side
// closes.
func (s *Server) events(c *gin.Context) {
	if s.hub == nil {
		respondError(c, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "event stream not enabled")
		return
	}

	tokens, err := parseTokens(c.QueryArray("token"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_TOKEN", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	stream := s.hub.Subscribe(id, tokens...)
	defer s.hub.Unsubscribe(id)

	s.logger.Info().Str("subscriber", id).Int("tokens", len(tokens)).Msg("Event stream client connected")

	// The read side only handles pongs and detects the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			s.logger.Info().Str("subscriber", id).Msg("Event stream client disconnected")
			return
		case ev, ok := <-stream:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Warn().Err(err).Str("subscriber", id).Msg("WebSocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
