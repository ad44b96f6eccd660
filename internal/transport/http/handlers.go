package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/store"
)

// ActionView is the JSON shape of a queued action.
type ActionView struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Entity    string          `json:"entity"`
	Operation string          `json:"operation"`
	Method    string          `json:"method"`
	Endpoint  string          `json:"endpoint"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewActionView converts a queued action. Non-JSON payloads are encoded as a
// JSON string.
func NewActionView(a model.QueuedAction) ActionView {
	v := ActionView{
		ID:        a.ID,
		Seq:       a.Seq,
		Entity:    a.EntityName,
		Operation: string(a.Operation),
		Method:    a.Method,
		Endpoint:  a.Endpoint,
		Status:    string(a.Status),
		Attempts:  a.Attempts,
		LastError: a.LastError,
		Timestamp: a.Timestamp.UnixMilli(),
	}
	if len(a.Payload) > 0 {
		if json.Valid(a.Payload) {
			v.Payload = json.RawMessage(a.Payload)
		} else {
			v.Payload, _ = json.Marshal(string(a.Payload))
		}
	}
	return v
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(s.deps.Monitor.Status(c.UserContext()))
}

func (s *Server) sync(c *fiber.Ctx) error {
	sum, err := s.deps.Syncer.Sync(c.UserContext())
	if err != nil {
		return err
	}
	if sum.Skipped {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "sync already in progress",
			"skipped": true,
		})
	}
	return s.sendMessage(c, sum.Message())
}

func (s *Server) messages(c *fiber.Ctx) error {
	m, err := message.Unmarshal(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	switch m := m.(type) {
	case message.CacheCriticalAssets:
		refs := m.URLs
		if len(refs) == 0 {
			refs = s.deps.CriticalAssets
		}
		n := s.deps.Precacher.Precache(ctx, refs)
		return s.sendMessage(c, message.CacheComplete{Cached: n})

	case message.SyncRequest:
		return s.sync(c)

	case message.ConnectivityChanged:
		s.deps.Monitor.SetOnline(m.Online)
		return c.SendStatus(fiber.StatusNoContent)

	default:
		return fiber.NewError(fiber.StatusUnprocessableEntity, "message type "+string(m.Type())+" is not accepted by the engine")
	}
}

func (s *Server) sendMessage(c *fiber.Ctx, m message.Message) error {
	data, err := message.Marshal(m)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(data)
}

func (s *Server) listQueue(c *fiber.Ctx) error {
	var statuses []model.ActionStatus
	if st := c.Query("status"); st != "" {
		status := model.ActionStatus(st)
		if !status.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "unknown status "+st)
		}
		statuses = append(statuses, status)
	}

	actions, err := s.deps.Queue.List(c.UserContext(), statuses...)
	if err != nil {
		return err
	}
	views := make([]ActionView, 0, len(actions))
	for _, a := range actions {
		views = append(views, NewActionView(a))
	}
	return c.JSON(views)
}

func (s *Server) retryAction(c *fiber.Ctx) error {
	a, err := s.deps.Queue.Retry(c.UserContext(), c.Params("id"))
	if err != nil {
		return queueError(err)
	}
	return c.JSON(NewActionView(a))
}

func (s *Server) discardAction(c *fiber.Ctx) error {
	if err := s.deps.Queue.Discard(c.UserContext(), c.Params("id")); err != nil {
		return queueError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func queueError(err error) error {
	switch {
	case queue.IsNotFound(err):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrIllegalTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return err
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (s *Server) connectivity(c *fiber.Ctx) error {
	var req connectivityRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Online == nil {
		return fiber.NewError(fiber.StatusBadRequest, `body must be {"online": true|false}`)
	}
	s.deps.Monitor.SetOnline(*req.Online)
	return c.JSON(s.deps.Monitor.Status(c.UserContext()))
}
