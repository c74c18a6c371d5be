package ml

import "errors"

var (
	ErrDatasetNotFound  = errors.New("dataset not found")
	ErrDatasetMalformed = errors.New("dataset malformed")
	ErrModelNotReady    = errors.New("model not ready")
	ErrInputInvalid     = errors.New("input invalid")
	ErrLabelMapping     = errors.New("label mapping failed")
	ErrArtifactCorrupt  = errors.New("artifact corrupt")
	ErrArtifactWrite    = errors.New("artifact write failed")
)
