package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

type documentKey struct {
	verificationID id.VerificationID
	side           id.DocumentSide
}

// InMemoryStore keeps verification records in process. Every read returns a
// copy so callers never alias stored values.
type InMemoryStore struct {
	mu        sync.RWMutex
	requests  map[id.VerificationID]*models.VerificationRequest
	documents map[documentKey]*models.Document
	selfies   map[id.VerificationID]*models.Selfie
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:  make(map[id.VerificationID]*models.VerificationRequest),
		documents: make(map[documentKey]*models.Document),
		selfies:   make(map[id.VerificationID]*models.Selfie),
	}
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req *models.VerificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, verificationID id.VerificationID) (*models.VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[verificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

// UpdateRequestIfVersion replaces the stored request only while its version
// still equals expectedVersion.
func (s *InMemoryStore) UpdateRequestIfVersion(_ context.Context, req *models.VerificationRequest, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

// SaveDocument upserts the document for its verification and side.
func (s *InMemoryStore) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[doc.VerificationID]; !ok {
		return sentinel.ErrNotFound
	}
	s.documents[documentKey{doc.VerificationID, doc.Side}] = cloneDocument(doc)
	return nil
}

func (s *InMemoryStore) FindDocument(_ context.Context, verificationID id.VerificationID, side id.DocumentSide) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentKey{verificationID, side}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (s *InMemoryStore) UpdateExtractedFields(_ context.Context, verificationID id.VerificationID, side id.DocumentSide, fields map[string]string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentKey{verificationID, side}]
	if !ok {
		return sentinel.ErrNotFound
	}
	doc.ExtractedFields = maps.Clone(fields)
	doc.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) SaveSelfie(_ context.Context, selfie *models.Selfie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[selfie.VerificationID]; !ok {
		return sentinel.ErrNotFound
	}
	c := *selfie
	s.selfies[selfie.VerificationID] = &c
	return nil
}

func (s *InMemoryStore) FindSelfie(_ context.Context, verificationID id.VerificationID) (*models.Selfie, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	selfie, ok := s.selfies[verificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *selfie
	return &c, nil
}

func cloneDocument(doc *models.Document) *models.Document {
	c := *doc
	c.ExtractedFields = maps.Clone(doc.ExtractedFields)
	return &c
}
