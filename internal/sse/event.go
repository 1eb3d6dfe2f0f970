package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	EventConnectionEstablished = "connection_established"
	EventMessage               = "message"
	EventHeartbeat             = "heartbeat"
	EventError                 = "error"
)

// Event is a single unit of real-time notification. ID is stamped at write
// time when left empty.
type Event struct {
	ID   string         `json:"id"`
	Name string         `json:"event"`
	Data map[string]any `json:"data"`
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event *Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}

	id := event.ID
	if id == "" {
		id = time.Now().Format(time.RFC3339Nano)
	}

	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event.Name, data); err != nil {
		return err
	}

	flusher.Flush()

	return nil
}
