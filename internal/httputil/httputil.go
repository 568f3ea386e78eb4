// Package httputil holds the JSON response and request parameter helpers
// shared by the relay's HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// ErrBadTabID is returned for a missing, non-numeric or negative tab id.
var ErrBadTabID = errors.New("tabId must be a non-negative integer")

// TabIDParam parses the {name} path segment as a tab id.
func TabIDParam(r *http.Request, name string) (int, error) {
	return parseTabID(chi.URLParam(r, name))
}

// TabIDQuery parses the named query parameter as a tab id.
func TabIDQuery(r *http.Request, name string) (int, error) {
	return parseTabID(r.URL.Query().Get(name))
}

func parseTabID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, ErrBadTabID
	}
	return id, nil
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OkJSON replies 200 with v as JSON.
func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSON replies with status and v as JSON.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorWithCode replies with code and an ErrorResponse carrying message.
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	if message == "" {
		message = http.StatusText(code)
	}
	WriteJSON(w, code, ErrorResponse{Code: code, Message: message})
}

// BadRequest replies 400 with err's text.
func BadRequest(w http.ResponseWriter, err error) {
	ErrorWithCode(w, http.StatusBadRequest, err.Error())
}

func NotFound(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusNotFound, message)
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	ErrorWithCode(w, http.StatusServiceUnavailable, message)
}
