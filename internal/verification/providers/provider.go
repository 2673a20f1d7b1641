package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	id "verigate/pkg/domain"
)

// Kind identifies which verification step a provider scores.
type Kind string

const (
	KindOcr             Kind = "ocr"
	KindCrossValidation Kind = "cross_validation"
	KindFaceMatch       Kind = "face_match"
	KindLiveness        Kind = "liveness"
)

// Request describes the images a provider should evaluate. Providers receive
// storage paths only; reading the images is their concern.
type Request struct {
	Kind           Kind
	VerificationID id.VerificationID
	FrontPath      string
	BackPath       string
	SelfiePath     string
	IsSandbox      bool
}

// CacheKey identifies a request for result caching.
func (r Request) CacheKey() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.VerificationID)
}

// Result is the generic outcome from any provider.
type Result struct {
	ProviderID string
	Kind       Kind
	// Score is in [0,1]. OCR providers report extraction confidence.
	Score float64
	// Passed is only meaningful for OCR, which has no numeric guard.
	Passed    bool
	Fields    map[string]string
	CheckedAt time.Time
}

// Provider is the universal interface all score sources implement.
type Provider interface {
	// ID returns a unique identifier for this provider instance
	ID() string

	// Kind returns the verification step this provider scores
	Kind() Kind

	// Evaluate scores the request
	Evaluate(ctx context.Context, req Request) (*Result, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error
}

// Registry holds one provider per kind.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry creates a new empty registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Kind]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(p Provider) error {
	kind := p.Kind()
	if existing, exists := r.providers[kind]; exists {
		return fmt.Errorf("%w: %s (%s)", ErrDuplicateKind, kind, existing.ID())
	}
	r.providers[kind] = p
	return nil
}

// Get returns the provider for kind.
func (r *Registry) Get(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, kind)
	}
	return p, nil
}

// All returns all registered providers ordered by kind.
func (r *Registry) All() []Provider {
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind() < result[j].Kind()
	})
	return result
}

// Health checks every registered provider and returns the failures by ID.
func (r *Registry) Health(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, p := range r.All() {
		if err := p.Health(ctx); err != nil {
			failures[p.ID()] = err
		}
	}
	return failures
}
