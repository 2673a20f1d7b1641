package domain

import dErrors "verigate/pkg/domain-errors"

// DocumentSide distinguishes the front of an ID document from its back.
// Invariant: the value must be one of the supported sides.
//
// Usage: construct via ParseDocumentSide at trust boundaries; direct casting
// bypasses validation.
type DocumentSide string

const (
	DocumentSideFront DocumentSide = "front"
	DocumentSideBack  DocumentSide = "back"
)

// ParseDocumentSide constructs a DocumentSide from external input.
// An empty value defaults to the front side, matching single-sided documents.
func ParseDocumentSide(s string) (DocumentSide, error) {
	switch DocumentSide(s) {
	case "", DocumentSideFront:
		return DocumentSideFront, nil
	case DocumentSideBack:
		return DocumentSideBack, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid document side: "+s)
	}
}

func (s DocumentSide) String() string {
	return string(s)
}

// IsBack reports whether the document is the back of an ID.
func (s DocumentSide) IsBack() bool {
	return s == DocumentSideBack
}
