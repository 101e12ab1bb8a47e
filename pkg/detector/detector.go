// Package detector defines the signal collaborator interfaces and the HTTP
// clients that implement them. The orchestrator depends on the interfaces
// only; availability is decided once at construction time.
package detector

import (
	"context"
	"fmt"

	"github.com/Abdul9010150809/VERSHIELD-AI/pkg/models"
)

// LivenessDetector classifies a face capture as Real or Spoof.
type LivenessDetector interface {
	DetectLiveness(ctx context.Context, image []byte) (models.Liveness, error)
}

// AcousticDetector scores an audio capture for synthetic-voice risk in [0,1].
type AcousticDetector interface {
	AnalyzeRisk(ctx context.Context, audio []byte) (float64, error)
}

// Reasoner produces a verdict with free-text reasoning from fused signals.
type Reasoner interface {
	Evaluate(ctx context.Context, req ReasoningRequest) (ReasoningResult, error)
}

// ReasoningRequest carries the fused signal values presented to the reasoner.
type ReasoningRequest struct {
	Tenant       string
	Liveness     models.Liveness
	AcousticRisk float64
	Amount       float64
}

// ReasoningResult is the reasoner's verdict plus its textual justification.
type ReasoningResult struct {
	Verdict   string
	Reasoning string
}

// ErrUnavailable is returned by a collaborator that was constructed without
// credentials. Callers substitute local fallbacks.
var ErrUnavailable = fmt.Errorf("collaborator not configured")

// CollaboratorError wraps a transport or protocol failure from a remote
// collaborator call.
type CollaboratorError struct {
	Collaborator string
	Status       int
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s collaborator: status %d: %v", e.Collaborator, e.Status, e.Err)
	}
	return fmt.Sprintf("%s collaborator: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
