package gateway

import (
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/telcrypto-backend/cmd/gateway/internal/hub"
)

// Handler upgrades /ws requests and attaches each connection to h.
type Handler struct {
	Hub        *hub.Hub
	Source     hub.SnapshotSource
	Symbols    []string
	SendBuffer int
	Logger     *zap.Logger
}

func (hd *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		hd.Logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, hd.Hub, hd.Logger, hd.SendBuffer)
	client.Start(r.Context(), hd.Source, hd.Symbols)
}
