package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/worldweaver/internal/capture"
	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	neynarinput "github.com/worldweaver/internal/provider_input/neynar"
	"github.com/worldweaver/internal/webhookutils"
)

const maxWebhookBody = 1 << 20

// FlowResponse is the JSON body of a synchronously processed delivery.
type FlowResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Route     string `json:"route,omitempty"`
	Stage     string `json:"stage,omitempty"`
	ReplyID   string `json:"reply_id,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

func newFlowResponse(eventID string, res conversation.FlowResult) FlowResponse {
	status := "ok"
	switch {
	case res.Skipped:
		status = "skipped"
	case !res.Success:
		status = "failed"
	}
	return FlowResponse{
		Status:    status,
		EventID:   eventID,
		Route:     res.Route,
		Stage:     res.Stage.String(),
		ReplyID:   res.ReplyID,
		Message:   res.Message,
		ErrorKind: string(res.ErrorKind),
		Attempts:  res.Attempts,
	}
}

// webhook receives Neynar deliveries. Only cast.created reaches the
// orchestrator; other types are acknowledged and dropped.
func (s *Server) webhook(c echo.Context) error {
	startTime := time.Now()
	req := c.Request()

	headers := webhookutils.FlattenHeaders(req.Header)
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxWebhookBody))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Failed to read request body",
		})
	}

	log.Debug().
		Int("bytes", len(body)).
		Interface("headers", webhookutils.RelevantHeaders(headers)).
		Msg("Processing webhook")

	if capture.Enabled() {
		capture.WriteJSON(capture.Category(neynarinput.PeekType(body)), body)
	}

	event, err := neynarinput.ConvertCastEvent(body)
	if errors.Is(err, neynarinput.ErrEventIgnored) {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ignored",
		})
	}
	if err != nil {
		log.Warn().Err(err).Msg("Failed to convert webhook")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid_payload",
		})
	}

	// Processing outlives the request; the orchestrator applies its own
	// timeout.
	ctx := context.WithoutCancel(req.Context())

	if s.opts.Async {
		s.inflight.Add(1)
		go func(ev events.Event) {
			defer s.inflight.Done()
			s.process(ctx, ev, startTime)
		}(*event)

		return c.JSON(http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"event_id":   event.EventID,
			"processing": "async",
		})
	}

	res := s.process(ctx, *event, startTime)
	code := http.StatusOK
	if !res.Success && !res.Skipped {
		code = http.StatusInternalServerError
	}
	return c.JSON(code, newFlowResponse(event.EventID, res))
}

func (s *Server) process(ctx context.Context, ev events.Event, startTime time.Time) conversation.FlowResult {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("event_id", ev.EventID).Str("panic", fmt.Sprint(r)).Msg("Event processing panicked")
		}
	}()

	res := s.handler.HandleEvent(ctx, ev)
	log.Info().
		Str("event_id", ev.EventID).
		Str("route", res.Route).
		Bool("success", res.Success).
		Bool("skipped", res.Skipped).
		Dur("elapsed", time.Since(startTime)).
		Msg("Webhook processed")
	return res
}
