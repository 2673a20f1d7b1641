package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) newRequest() *models.VerificationRequest {
	req := models.NewVerificationRequest(id.UserID(uuid.New()), id.DeveloperID(uuid.New()), false, s.now)
	s.Require().NoError(s.store.CreateRequest(s.ctx, req))
	return req
}

func (s *InMemoryStoreSuite) TestRequests() {
	s.Run("create then find returns a copy", func() {
		req := s.newRequest()
		found, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(req, found)

		found.State = models.StateFailed
		again, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatePending, again.State)
	})

	s.Run("duplicate create conflicts", func() {
		req := s.newRequest()
		s.ErrorIs(s.store.CreateRequest(s.ctx, req), sentinel.ErrConflict)
	})

	s.Run("missing request", func() {
		_, err := s.store.FindRequest(s.ctx, id.NewVerificationID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestUpdateRequestIfVersion() {
	s.Run("matching version wins", func() {
		req := s.newRequest()
		next := req.Clone()
		next.State = models.StateDocumentUploaded
		next.AppliedEvents = append(next.AppliedEvents, models.EventDocumentUpload)
		next.Version = 2

		s.Require().NoError(s.store.UpdateRequestIfVersion(s.ctx, next, 1))
		found, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StateDocumentUploaded, found.State)
		s.Equal(2, found.Version)
	})

	s.Run("stale version conflicts and leaves record untouched", func() {
		req := s.newRequest()
		next := req.Clone()
		next.State = models.StateManualReview
		next.Version = 2
		s.Require().NoError(s.store.UpdateRequestIfVersion(s.ctx, next, 1))

		stale := req.Clone()
		stale.State = models.StateDocumentUploaded
		stale.Version = 2
		s.ErrorIs(s.store.UpdateRequestIfVersion(s.ctx, stale, 1), sentinel.ErrConflict)

		found, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StateManualReview, found.State)
	})

	s.Run("missing request", func() {
		req := models.NewVerificationRequest(id.UserID(uuid.New()), id.DeveloperID(uuid.New()), false, s.now)
		s.ErrorIs(s.store.UpdateRequestIfVersion(s.ctx, req, 1), sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestDocuments() {
	s.Run("save replaces per side and stores extracted fields", func() {
		req := s.newRequest()
		front := &models.Document{
			ID:             id.NewDocumentID(),
			VerificationID: req.ID,
			StoragePath:    "docs/front-1.jpg",
			SizeBytes:      1024,
			MimeType:       "image/jpeg",
			Side:           id.DocumentSideFront,
			CreatedAt:      s.now,
			UpdatedAt:      s.now,
		}
		s.Require().NoError(s.store.SaveDocument(s.ctx, front))

		replacement := *front
		replacement.ID = id.NewDocumentID()
		replacement.StoragePath = "docs/front-2.jpg"
		s.Require().NoError(s.store.SaveDocument(s.ctx, &replacement))

		later := s.now.Add(time.Minute)
		s.Require().NoError(s.store.UpdateExtractedFields(s.ctx, req.ID, id.DocumentSideFront, map[string]string{"last_name": "DOE"}, later))

		found, err := s.store.FindDocument(s.ctx, req.ID, id.DocumentSideFront)
		s.Require().NoError(err)
		s.Equal("docs/front-2.jpg", found.StoragePath)
		s.Equal(map[string]string{"last_name": "DOE"}, found.ExtractedFields)
		s.Equal(later, found.UpdatedAt)

		_, err = s.store.FindDocument(s.ctx, req.ID, id.DocumentSideBack)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("orphan document rejected", func() {
		doc := &models.Document{ID: id.NewDocumentID(), VerificationID: id.NewVerificationID(), Side: id.DocumentSideFront}
		s.ErrorIs(s.store.SaveDocument(s.ctx, doc), sentinel.ErrNotFound)
	})

	s.Run("extracted fields need an uploaded document", func() {
		req := s.newRequest()
		err := s.store.UpdateExtractedFields(s.ctx, req.ID, id.DocumentSideFront, map[string]string{"a": "b"}, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestSelfies() {
	req := s.newRequest()
	_, err := s.store.FindSelfie(s.ctx, req.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	selfie := &models.Selfie{
		ID:             id.NewSelfieID(),
		VerificationID: req.ID,
		StoragePath:    "selfies/1.jpg",
		SizeBytes:      2048,
		MimeType:       "image/jpeg",
		CreatedAt:      s.now,
	}
	s.Require().NoError(s.store.SaveSelfie(s.ctx, selfie))
	found, err := s.store.FindSelfie(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(selfie, found)
}
