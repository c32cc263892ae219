package handler

import (
	"time"

	"github.com/yndnr/memsnap-go/internal/artifact"
)

// Response is the JSON envelope of every non-artifact response.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// ListArtifactsResponse is the payload of GET /v1/artifacts.
type ListArtifactsResponse struct {
	Artifacts  []artifact.Info `json:"artifacts"`
	Total      int             `json:"total"`
	TotalBytes int64           `json:"total_bytes"`
}

// HealthResponse is the payload of GET /health and GET /ready.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Backend string `json:"backend,omitempty"`
	Time    string `json:"time"`
}
