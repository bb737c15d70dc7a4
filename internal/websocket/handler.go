package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and runs it as a hub client. initial,
// if set, supplies the messages a new client receives before any broadcast.
func HandleWebSocket(hub *Hub, initial func() []Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			hub.logger.Warn("accept", "error", err)
			return
		}

		client := NewClient(hub, conn)
		if initial != nil {
			for _, msg := range initial() {
				client.Queue(msg)
			}
		}
		client.Run(r.Context())
	}
}
