package connection

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// wsUpgrader mirrors hotreload.LiveReloadServer's upgrader
// (internal/infrastructure/hotreload/livereload.go): permissive CheckOrigin,
// since origin admission for upgrade requests is the CORS layer's job, not
// the transport's.
var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// isWebSocketUpgrade reports whether req carries the header pair RFC 6455
// requires to request a protocol upgrade.
func isWebSocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket") &&
		hasToken(req.Header.Get("Connection"), "upgrade")
}

func hasToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// serveWebSocketEcho upgrades the connection and echoes every received
// frame back verbatim until the peer closes it. It stands in for the
// transport half of a reverse-proxy streaming collaborator; wiring a real
// upstream is outside the pipeline this package drives.
func serveWebSocketEcho(w http.ResponseWriter, req *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
