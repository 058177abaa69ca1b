package extraction

import (
	"fmt"

	"github.com/docbrain-ai/docbrain/pkg/model"
)

// ExtractionError is the terminal failure of one extraction. Extraction is
// deterministic, so these are never retryable.
type ExtractionError struct {
	DocumentID   string
	DocumentType model.DocumentType
	Stage        string
	Err          error
}

func newExtractionError(documentID string, docType model.DocumentType, stage string, err error) *ExtractionError {
	return &ExtractionError{
		DocumentID:   documentID,
		DocumentType: docType,
		Stage:        stage,
		Err:          err,
	}
}

func (e *ExtractionError) Error() string {
	if e.DocumentID == "" {
		return fmt.Sprintf("extraction failed (%s, %s): %v", e.DocumentType, e.Stage, e.Err)
	}
	return fmt.Sprintf("extraction failed for document %s (%s, %s): %v", e.DocumentID, e.DocumentType, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
