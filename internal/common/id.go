package common

import (
	"github.com/google/uuid"
)

// NewCaseID generates a unique test-case ID with the "case_" prefix
// Format: case_<uuid>
func NewCaseID() string {
	return "case_" + uuid.New().String()
}

// NewSubmissionID generates a unique queue-submission ID with the "sub_" prefix
// Format: sub_<uuid>
func NewSubmissionID() string {
	return "sub_" + uuid.New().String()
}
