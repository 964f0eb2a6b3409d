package model

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound            = errors.New("resource not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrPhaseResultNotFound = errors.New("phase result not found")
	ErrFeedbackNotFound    = errors.New("feedback not found")
	ErrVersionNotFound     = errors.New("preview version not found")

	// Auth Errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Pipeline Errors
	ErrSessionTerminal      = errors.New("session is in a terminal status")
	ErrInvalidTransition    = errors.New("invalid session status transition")
	ErrPhaseTimeout         = errors.New("phase execution exceeded its deadline")
	ErrGenerationFailed     = errors.New("content generation failed")
	ErrSessionNotWaiting    = errors.New("session is not waiting for feedback")
	ErrUserHasActiveSession = errors.New("user already has an active generation session")

	// Feedback Errors
	ErrDuplicateWait     = errors.New("feedback wait already registered for this session and phase")
	ErrInvalidFeedback   = errors.New("invalid feedback submission")
	ErrVersionPhaseOrder = errors.New("parent version must not reference a later phase")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
