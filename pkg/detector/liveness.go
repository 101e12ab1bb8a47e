package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/httpx"
	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

// HTTPLiveness calls a face-liveness endpoint over HTTP. The endpoint
// receives the raw image and answers with a binary decision.
type HTTPLiveness struct {
	endpoint string
	apiKey   string
	client   *http.Client
	enabled  bool
}

// NewHTTPLiveness builds the client. With an empty endpoint the client is
// disabled and every call returns ErrUnavailable.
func NewHTTPLiveness(endpoint, apiKey string, client *http.Client) *HTTPLiveness {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLiveness{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		enabled:  endpoint != "",
	}
}

// Enabled reports whether the client was constructed with an endpoint.
func (l *HTTPLiveness) Enabled() bool { return l.enabled }

type livenessResponse struct {
	Decision string `json:"decision"`
}

// DetectLiveness posts the capture and maps the answer onto the Liveness
// domain. Anything other than a clean "Real" reads as Spoof.
func (l *HTTPLiveness) DetectLiveness(ctx context.Context, image []byte) (models.Liveness, error) {
	if !l.enabled {
		return "", ErrUnavailable
	}
	body, err := json.Marshal(map[string]any{"image_b64": encodeB64(image)})
	if err != nil {
		return "", &CollaboratorError{Collaborator: "liveness", Err: err}
	}
	headers := map[string]string{}
	if l.apiKey != "" {
		headers["Ocp-Apim-Subscription-Key"] = l.apiKey
	}
	status, respBody, err := httpx.RequestJSON(ctx, l.client, http.MethodPost, l.endpoint, body, headers, 0, 0)
	if err != nil {
		return "", &CollaboratorError{Collaborator: "liveness", Err: err}
	}
	if status != http.StatusOK {
		return "", &CollaboratorError{Collaborator: "liveness", Status: status, Err: fmt.Errorf("unexpected status")}
	}
	var out livenessResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &CollaboratorError{Collaborator: "liveness", Err: err}
	}
	switch out.Decision {
	case string(models.LivenessReal):
		return models.LivenessReal, nil
	case string(models.LivenessSpoof):
		return models.LivenessSpoof, nil
	default:
		// Unknown answers read as Spoof rather than trusting the capture.
		return models.LivenessSpoof, nil
	}
}
