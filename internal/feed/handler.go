package feed

import (
	"net/http"
	"strings"

	ws "github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler принимает WebSocket-подключения к ленте изменений.
// Параметр запроса account ограничивает ленту событиями одного клиента.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			hub.logger.Warn("feed accept failed", zap.Error(err))
			return
		}

		accountID := strings.ToLower(r.URL.Query().Get("account"))
		client := NewClient(hub, conn, accountID)
		client.Run(r.Context())
	}
}
