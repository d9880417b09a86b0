package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"peoplecounter/internal/dto"
)

// atoiDefault parses a positive integer query value, falling back to def.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, dto.ErrorResponse{Code: code, Message: message})
}

// contentTypeForExt maps the stored container to a response content type.
func contentTypeForExt(ext string) string {
	if ext == ".png" {
		return "image/png"
	}
	return "image/jpeg"
}
