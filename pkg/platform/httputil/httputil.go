package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "brewlog/pkg/domain-errors"
)

// WriteJSON writes v with the given status. Encoding failures are not
// reported: the header is already on the wire.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to a status and an
// {"error", "error_description"} body. Internal errors carry no description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)

	body := map[string]string{"error": string(code)}
	if status != http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, status, body)
}

func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeDecode:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeSessionExpired:
		return http.StatusUnauthorized
	case dErrors.CodeRequestFailed:
		return http.StatusBadGateway
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
