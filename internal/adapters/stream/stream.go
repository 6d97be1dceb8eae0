// Package stream is the websocket transport adapter: it upgrades
// connections, decodes inbound envelopes, and hands validated actions to
// the gateway.
package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cb3tech/moshcast/internal/app"
	"github.com/cb3tech/moshcast/internal/catalog"
	"github.com/cb3tech/moshcast/internal/config"
	"github.com/cb3tech/moshcast/internal/core"
	"github.com/cb3tech/moshcast/internal/domain"
	"github.com/cb3tech/moshcast/internal/identity"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Gateway  *app.Gateway
	Verifier identity.Verifier
	Catalog  catalog.Client
	Cfg      *config.Config
}

func NewController(gw *app.Gateway, verifier identity.Verifier, cat catalog.Client, cfg *config.Config) *Controller {
	return &Controller{Gateway: gw, Verifier: verifier, Catalog: cat, Cfg: cfg}
}

// wsConn adapts one gorilla connection to core.Conn. TrySend never blocks:
// a full buffer surfaces ErrBackpressure and the frame is dropped.
type wsConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) ID() core.ConnID { return c.id }

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleStream authenticates (when enabled), upgrades, and starts the
// pumps for one subscriber connection.
func (ctl *Controller) HandleStream(ctx context.Context, c *gin.Context) {
	cid := core.ConnID(c.GetString("conn_id"))

	var subject domain.Identity
	if ctl.Cfg.Auth.Enabled {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		sub, err := ctl.Verifier.Verify(token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.stream").Str("conn", string(cid)).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		subject = domain.NormalizeIdentity(sub)
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.stream").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.stream").Str("conn", string(cid)).Msg("new stream connection")

	conn := &wsConn{
		id:   cid,
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	ctl.Gateway.Attach(conn, subject)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
