package httpstore

import (
	"fmt"
	"io"
	"net/http"

	"github.com/yndnr/memsnap-go/internal/artifact"
	"github.com/yndnr/memsnap-go/internal/core/domain"
)

// envelope mirrors the artifact service's JSON response wrapper.
type envelope[T any] struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      T      `json:"data"`
}

// ListResponse is the payload of GET /v1/artifacts.
type ListResponse struct {
	Artifacts []artifact.Info `json:"artifacts"`
}

// checkResponse maps an error status to the store's error values.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return artifact.ErrNotFound
	case http.StatusPreconditionFailed, http.StatusConflict:
		return artifact.ErrExists
	}

	var env envelope[struct{}]
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return domain.ErrStoreUnavailable.WithDetails(fmt.Sprintf("%d [%s] %s", resp.StatusCode, env.Code, env.Message))
	}
	return domain.ErrStoreUnavailable.WithDetails(fmt.Sprintf("status %d", resp.StatusCode))
}
