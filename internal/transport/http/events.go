package http

import (
	"bufio"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/roach88/pantry/internal/message"
)

// keepAlive is how often an idle event stream sends a comment line.
const keepAlive = 25 * time.Second

// events streams every broker message as a server-sent event until the
// client goes away or the broker closes.
func (s *Server) events(c *fiber.Ctx) error {
	ch, cancel := s.deps.Broker.Subscribe()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				data, err := message.Marshal(m)
				if err != nil {
					s.log.Warn("encode event", "type", m.Type(), "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Type(), data)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				s.log.Debug("event stream closed", "error", err)
				return
			}
		}
	})
	return nil
}
