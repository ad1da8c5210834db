package api

import (
	"encoding/json"
	"net/http"
)

type statusCoder interface {
	StatusCode() int
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError renders an error as the streaming JSON error shape. Rejections
// carrying a 404 are masked as plain "Not found" so clients cannot probe for
// resource existence.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "An unexpected error occurred"
	if sc, ok := err.(statusCoder); ok {
		status = sc.StatusCode()
		message = err.Error()
	}
	if status == http.StatusNotFound {
		message = "Not found"
	}
	writeJSONError(w, status, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}
