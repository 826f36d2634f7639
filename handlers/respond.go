package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/taskpro/services"
)

var errRateLimited = errors.New("too many requests")

type messageResponse struct {
	Message any `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// writeError maps service errors to a status code and a message body
func writeError(w http.ResponseWriter, logger *log.Logger, err error) {
	var (
		validation *services.ValidationError
		missing    *services.NotFoundError
		taken      *services.ConflictError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: validation.Messages()})
	case errors.Is(err, services.ErrBadCredentials):
		writeMessage(w, http.StatusUnauthorized, "Email or password is wrong")
	case errors.Is(err, services.ErrNotAuthorized):
		writeMessage(w, http.StatusUnauthorized, "Not authorized")
	case errors.As(err, &missing):
		writeMessage(w, http.StatusNotFound, missing.Error())
	case errors.As(err, &taken):
		writeMessage(w, http.StatusConflict, taken.Message)
	case errors.Is(err, errRateLimited):
		writeMessage(w, http.StatusTooManyRequests, "Too many requests")
	default:
		logger.WithError(err).Error("request failed")
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// decode reads a JSON body into v. A body that is not JSON is reported as
// a validation error.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &services.ValidationError{Fields: []services.FieldError{{Field: "body", Message: "invalid request body"}}}
	}
	return nil
}
