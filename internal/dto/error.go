package dto

// ErrorResponse is the structured error payload returned by all API handlers.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
