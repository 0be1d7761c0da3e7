package app

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")

	ErrSessionNotFound = errors.New("session not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
	ErrReplyInFlight   = errors.New("a reply is already being generated for this session")

	ErrImageEmpty    = errors.New("image is empty")
	ErrAudioEmpty    = errors.New("audio is empty")
	ErrInvalidPeriod = errors.New("invalid glucose period")
	ErrInvalidValue  = errors.New("glucose value out of range")
	ErrFoodNotFound  = errors.New("food not found")
)
