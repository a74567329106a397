package response

import (
	"encoding/json"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Problem is a client-facing failure: the status plus the stable code and message put
// in the error envelope.
type Problem struct {
	Status  int
	Code    string
	Message string
}

// Internal is written for any failure that must not be described to the client.
var Internal = Problem{Status: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal server error"}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, status, envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	Fail(w, r, Problem{Status: status, Code: code, Message: message}, details)
}

// Fail writes p as an error envelope. A zero status is written as 500.
func Fail(w http.ResponseWriter, r *http.Request, p Problem, details any) {
	if p.Status == 0 {
		p.Status = http.StatusInternalServerError
	}
	write(w, p.Status, envelope{Success: false, Error: &apiError{Code: p.Code, Message: p.Message, Details: details}, Meta: buildMeta(r)})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
