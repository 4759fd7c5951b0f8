package http

import (
	"encoding/json"
	"net/http"

	"L402Paywall/internal/services"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    services.Kind `json:"kind"`
	Message string        `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind services.Kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindAuthentication:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindProvider:
		return http.StatusBadGateway
	case services.KindStorage:
		return http.StatusServiceUnavailable
	case services.KindExpiredIntent:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// publicMessage keeps internal error text off the wire.
func publicMessage(kind services.Kind, err error) string {
	switch kind {
	case services.KindValidation, services.KindAuthentication, services.KindNotFound:
		return err.Error()
	case services.KindProvider:
		return "payment provider unavailable"
	case services.KindStorage:
		return "storage unavailable"
	}
	return "internal error"
}

func writeServiceError(w http.ResponseWriter, err error) {
	kind := services.KindOf(err)
	writeError(w, statusFor(kind), kind, publicMessage(kind, err))
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
