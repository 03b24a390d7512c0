package utilities

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var ErrInvalidPayload = errors.New("invalid payload")

// Flash categories, mirrored by clients to style messages.
const (
	CategorySuccess = "success"
	CategoryInfo    = "info"
	CategoryWarning = "warning"
	CategoryError   = "error"
)

// Message is the body returned by endpoints that report an outcome to the user.
type Message struct {
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Redirect string            `json:"redirect,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
	Data     any               `json:"data,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteMessage writes a flash-style message body.
func WriteMessage(w http.ResponseWriter, status int, category, msg, redirect string) {
	WriteJSON(w, status, Message{Message: msg, Category: category, Redirect: redirect})
}

// DecodeJSON decodes a bounded request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	return nil
}
