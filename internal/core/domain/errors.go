package domain

import "errors"

var (
	ErrCallNotFound      = errors.New("call not found")
	ErrCallExists        = errors.New("call already exists")
	ErrInvalidCall       = errors.New("invalid call")
	ErrInvalidTransition = errors.New("invalid call status transition")
	ErrEngineNotReady    = errors.New("media engine not initialized")
	ErrSessionClosed     = errors.New("peer session closed")
	ErrNotConnected      = errors.New("signaling transport not connected")
	ErrInvalidEnvelope   = errors.New("invalid signaling envelope")
	ErrFavoriteNotFound  = errors.New("favorite not found")
	ErrUnauthorized      = errors.New("unauthorized")
)
