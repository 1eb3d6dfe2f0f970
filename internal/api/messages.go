package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/loqui/pulse/internal/auth"
	"github.com/loqui/pulse/internal/store"
)

type sendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
}

// sendDirectMessage is the thin write surface feeding the on-create hook.
// The response never waits on event delivery.
func (app *App) sendDirectMessage() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		token := auth.BearerToken(r)
		if token == "" {
			writeStatus(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		subject, err := app.verifier.Verify(token)
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeStatus(w, http.StatusBadRequest, "Bad request.")
			return
		}

		if req.RecipientID == "" || req.Content == "" {
			writeStatus(w, http.StatusBadRequest, "Bad request.")
			return
		}

		if req.MessageType == "" {
			req.MessageType = "text"
		}

		message, err := app.store.CreateDirectMessage(r.Context(), subject,
			req.RecipientID, req.Content, req.MessageType, req.FileURL)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeStatus(w, http.StatusNotFound, "User not found")
			case errors.Is(err, store.ErrSelfMessage):
				writeStatus(w, http.StatusBadRequest, "Cannot send message to yourself")
			case errors.Is(err, store.ErrNotFriends):
				writeStatus(w, http.StatusForbidden, "Users are not friends")
			default:
				writeStatus(w, http.StatusInternalServerError, "Internal error")
			}
			return
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "SUCCESS",
			"message_id": message.ID,
		})
	}
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ERROR",
		"message": message,
	})
}
