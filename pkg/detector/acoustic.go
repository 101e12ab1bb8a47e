package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/httpx"
)

// HTTPAcoustic calls a voice-analysis endpoint that scores an audio capture
// for synthetic-voice artifacts.
type HTTPAcoustic struct {
	endpoint string
	apiKey   string
	client   *http.Client
	enabled  bool
}

// NewHTTPAcoustic builds the client. With an empty endpoint the client is
// disabled and every call returns ErrUnavailable.
func NewHTTPAcoustic(endpoint, apiKey string, client *http.Client) *HTTPAcoustic {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAcoustic{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
		enabled:  endpoint != "",
	}
}

// Enabled reports whether the client was constructed with an endpoint.
func (a *HTTPAcoustic) Enabled() bool { return a.enabled }

type acousticResponse struct {
	RiskScore float64 `json:"risk_score"`
}

// AnalyzeRisk posts the capture and returns the normalized risk score.
// Out-of-range answers are clamped to [0,1].
func (a *HTTPAcoustic) AnalyzeRisk(ctx context.Context, audio []byte) (float64, error) {
	if !a.enabled {
		return 0, ErrUnavailable
	}
	body, err := json.Marshal(map[string]any{"audio_b64": encodeB64(audio)})
	if err != nil {
		return 0, &CollaboratorError{Collaborator: "acoustic", Err: err}
	}
	headers := map[string]string{}
	if a.apiKey != "" {
		headers["Ocp-Apim-Subscription-Key"] = a.apiKey
	}
	status, respBody, err := httpx.RequestJSON(ctx, a.client, http.MethodPost, a.endpoint, body, headers, 0, 0)
	if err != nil {
		return 0, &CollaboratorError{Collaborator: "acoustic", Err: err}
	}
	if status != http.StatusOK {
		return 0, &CollaboratorError{Collaborator: "acoustic", Status: status, Err: fmt.Errorf("unexpected status")}
	}
	var out acousticResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, &CollaboratorError{Collaborator: "acoustic", Err: err}
	}
	score := out.RiskScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
