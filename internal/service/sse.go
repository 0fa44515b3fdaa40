package service

import (
	"encoding/json"
	"fmt"
	"io"

	"bookrag/internal/domain"
)

// WriteSSE writes one event in server-sent events framing:
//
//	event: <type>
//	data: <json>
func WriteSSE(w io.Writer, ev domain.StreamEvent) error {
	var payload any
	switch ev.Type {
	case domain.EventSources:
		sources := ev.Sources
		if sources == nil {
			sources = []domain.StreamSource{}
		}
		payload = sources
	case domain.EventToken:
		payload = map[string]string{"token": ev.Token}
	case domain.EventDone:
		payload = map[string]string{"status": "complete"}
	case domain.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		payload = map[string]string{"error": msg}
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
