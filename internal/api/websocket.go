package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"execution-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are the topics pushed to dashboard/alerting subscribers.
var streamedEvents = []events.Event{
	events.EventRiskAlert,
	events.EventBreakerEngaged,
	events.EventBreakerCleared,
	events.EventLinkHealth,
	events.EventOrderExecuted,
	events.EventOrderRejected,
	events.EventOrderAmbiguous,
}

type wsFrame struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade error")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// Merge all topics into one channel: the websocket connection allows
	// only a single writer.
	merged := make(chan wsFrame, 256)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, ev := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(ev, 64)
		wg.Add(1)
		go func(ev events.Event, stream <-chan any, unsub func()) {
			defer wg.Done()
			defer unsub()
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsFrame{Event: ev, Payload: msg}:
					case <-done:
						return
					}
				}
			}
		}(ev, stream, unsub)
	}
	defer func() {
		close(done)
		wg.Wait()
	}()

	for frame := range merged {
		if err := conn.WriteJSON(frame); err != nil {
			s.log.Debug().Err(err).Msg("ws write error, dropping subscriber")
			return
		}
	}
}
