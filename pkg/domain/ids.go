package domain

import (
	"github.com/google/uuid"

	dErrors "verigate/pkg/domain-errors"
)

// Typed identifiers. Each wraps a UUID so the compiler rejects passing a
// SessionID where a VerificationID is expected.
type (
	UserID         uuid.UUID
	DeveloperID    uuid.UUID
	OrganizationID uuid.UUID
	VerificationID uuid.UUID
	DocumentID     uuid.UUID
	SelfieID       uuid.UUID
	SessionID      uuid.UUID
)

// parseUUID enforces the shared invariant: IDs are valid, non-nil UUIDs.
func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user ID", s)
	return UserID(u), err
}

func ParseDeveloperID(s string) (DeveloperID, error) {
	u, err := parseUUID("developer ID", s)
	return DeveloperID(u), err
}

func ParseOrganizationID(s string) (OrganizationID, error) {
	u, err := parseUUID("organization ID", s)
	return OrganizationID(u), err
}

func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID("verification ID", s)
	return VerificationID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID("document ID", s)
	return DocumentID(u), err
}

func ParseSelfieID(s string) (SelfieID, error) {
	u, err := parseUUID("selfie ID", s)
	return SelfieID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID("session ID", s)
	return SessionID(u), err
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id DeveloperID) String() string    { return uuid.UUID(id).String() }
func (id OrganizationID) String() string { return uuid.UUID(id).String() }
func (id VerificationID) String() string { return uuid.UUID(id).String() }
func (id DocumentID) String() string     { return uuid.UUID(id).String() }
func (id SelfieID) String() string       { return uuid.UUID(id).String() }
func (id SessionID) String() string      { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id DeveloperID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id OrganizationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id VerificationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SelfieID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// NewVerificationID returns a fresh random verification ID.
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }

// NewDocumentID returns a fresh random document ID.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewSelfieID returns a fresh random selfie ID.
func NewSelfieID() SelfieID { return SelfieID(uuid.New()) }

// NewSessionID returns a fresh random session ID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }
