package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	reasonerMaxRetries   = 3
	reasonerInitialDelay = time.Second
	reasonerMaxTokens    = 300
	reasonerTemperature  = 0.1
)

// ChatReasoner evaluates fused signals through a chat-completions endpoint.
// The model answers in prose; the verdict is parsed from the text.
type ChatReasoner struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	enabled  bool
}

// NewChatReasoner builds the client. With an empty endpoint or key the
// reasoner is disabled and every call returns ErrUnavailable.
func NewChatReasoner(endpoint, apiKey, model string, client *http.Client) *ChatReasoner {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &ChatReasoner{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   client,
		enabled:  endpoint != "" && apiKey != "",
	}
}

// Enabled reports whether the reasoner was constructed with credentials.
func (r *ChatReasoner) Enabled() bool { return r.enabled }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Evaluate submits the forensic prompt and parses the model's answer. A
// verdict containing BLOCK anywhere in the text blocks; everything else
// allows, matching the reference parsing.
func (r *ChatReasoner) Evaluate(ctx context.Context, req ReasoningRequest) (ReasoningResult, error) {
	if !r.enabled {
		return ReasoningResult{}, ErrUnavailable
	}

	payload := chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.Tenant)},
			{Role: "user", Content: userPrompt(req)},
		},
		MaxTokens:   reasonerMaxTokens,
		Temperature: reasonerTemperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < reasonerMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * reasonerInitialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: ctx.Err()}
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: err}
		}
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := r.client.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr chatError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("api error: %s", apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("api error: %s", string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Status: resp.StatusCode, Err: lastErr}
		}

		var out chatResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: err}
		}
		if len(out.Choices) == 0 {
			return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: fmt.Errorf("empty choices")}
		}
		reasoning := strings.TrimSpace(out.Choices[0].Message.Content)
		if reasoning == "" {
			return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: fmt.Errorf("empty content")}
		}
		verdict := "ALLOW"
		if strings.Contains(strings.ToUpper(reasoning), "BLOCK") {
			verdict = "BLOCK"
		}
		return ReasoningResult{Verdict: verdict, Reasoning: reasoning}, nil
	}

	return ReasoningResult{}, &CollaboratorError{Collaborator: "reasoner", Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

func systemPrompt(tenant string) string {
	if tenant == "" {
		tenant = "enterprise"
	}
	return fmt.Sprintf(`You are a Cyber-Forensics Expert specializing in deepfake detection and financial fraud prevention for %s environments.
Analyze the provided multi-modal biometric data and transaction details.
Face liveness detection provides binary Real/Spoof results; acoustic analysis provides a risk score where higher values indicate greater likelihood of AI-generated voice.

Key principles:
- If face is "Spoof", always BLOCK regardless of other factors
- If face is "Real" but voice shows high synthetic risk (>0.7), BLOCK for high-value transactions
- Higher transaction amounts warrant stricter scrutiny
- Prioritize security over convenience

Provide a clear BLOCK or ALLOW decision with brief forensic reasoning.`, tenant)
}

func userPrompt(req ReasoningRequest) string {
	tenant := req.Tenant
	if tenant == "" {
		tenant = "Unknown"
	}
	risk := "low"
	if req.Amount > 10000 {
		risk = "high"
	} else if req.Amount > 1000 {
		risk = "moderate"
	}
	presence := "authentic human presence"
	if req.Liveness != "Real" {
		presence = "potential spoofing attempt"
	}
	return fmt.Sprintf(`Transaction Analysis Request for Tenant: %s

Face Liveness Result: %s
Voice Synthetic Risk Score: %.2f (0.0 = natural, 1.0 = synthetic)
Transaction Value: $%.2f

Forensic Analysis:
- Face detection indicates %s
- Voice analysis shows %.0f%% likelihood of being AI-generated
- Transaction represents %s financial risk

Decision: Should this transaction be BLOCKED or ALLOWED?`,
		tenant, req.Liveness, req.AcousticRisk, req.Amount, presence, req.AcousticRisk*100, risk)
}
