package engine

import "errors"

var (
	ErrNoProfileSelected   = errors.New("no candidate profile selected")
	ErrAlreadyStarted      = errors.New("interview already started")
	ErrNotStarted          = errors.New("interview not started")
	ErrNotListening        = errors.New("interview is not listening for an answer")
	ErrEmptyAnswer         = errors.New("answer is empty")
	ErrDuplicateSubmission = errors.New("duplicate submission dropped")
	ErrSessionEnded        = errors.New("interview has ended")
)
