package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/domain"
	"github.com/cb3tech/moshcast/internal/metrics"
	"github.com/cb3tech/moshcast/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.stream").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "adapters.stream").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.stream").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.stream").Str("conn", string(c.id)).Msg("readPump closing")
		ctl.Gateway.Disconnect(c.id)
		c.Close()
	}()

	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "adapters.stream").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(ctx, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, c *wsConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "adapters.stream").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendInvalid(c, "malformed frame")
		return
	}

	switch env.Type {
	case protocol.ActionHostStart:
		var p protocol.HostStart
		if err := protocol.Decode(data, &p); err != nil {
			ctl.sendInvalid(c, err.Error())
			return
		}
		p.Track = ctl.resolveTrack(ctx, p.TrackID, p.Track)
		ctl.Gateway.HostStart(c.id, p)
	case protocol.ActionHostUpdate:
		var p protocol.HostUpdate
		if err := protocol.Decode(data, &p); err != nil {
			ctl.sendInvalid(c, err.Error())
			return
		}
		p.Track = ctl.resolveTrack(ctx, p.TrackID, p.Track)
		ctl.Gateway.HostUpdate(c.id, p)
	case protocol.ActionHostEnd:
		var p protocol.HostEnd
		if err := protocol.Decode(data, &p); err != nil {
			ctl.sendInvalid(c, err.Error())
			return
		}
		ctl.Gateway.HostEnd(c.id, p)
	case protocol.ActionListenerJoin:
		var p protocol.ListenerJoin
		if err := protocol.Decode(data, &p); err != nil {
			ctl.sendInvalid(c, err.Error())
			return
		}
		ctl.Gateway.ListenerJoin(c.id, p)
	case protocol.ActionChatSend:
		var p protocol.ChatSend
		if err := protocol.Decode(data, &p); err != nil {
			ctl.sendInvalid(c, err.Error())
			return
		}
		ctl.Gateway.ChatSend(c.id, p)
	case protocol.ActionPing:
		ctl.sendJSON(c, protocol.Pong{Type: protocol.EventPong})
	default:
		log.Warn().Str("module", "adapters.stream").Str("type", env.Type).Msg("unknown action")
	}
}

// resolveTrack swaps a trackId for the catalog descriptor when a catalog
// is configured; failures fall back to whatever the host supplied.
func (ctl *Controller) resolveTrack(ctx context.Context, trackID string, fallback *domain.Track) *domain.Track {
	if trackID == "" || ctl.Catalog == nil {
		return fallback
	}
	lookupCtx, cancel := context.WithTimeout(ctx, ctl.Cfg.Catalog.Timeout)
	defer cancel()
	t, err := ctl.Catalog.Track(lookupCtx, trackID)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.stream").Str("track_id", trackID).Msg("catalog lookup failed")
		return fallback
	}
	return t
}

func (ctl *Controller) sendInvalid(c *wsConn, msg string) {
	metrics.ActionErrors.WithLabelValues(protocol.CodeInvalidPayload).Inc()
	ctl.sendJSON(c, protocol.NewStreamError(protocol.CodeInvalidPayload, msg))
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.stream").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
