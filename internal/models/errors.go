package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound = errors.New("resource not found")

	// Stamina Errors
	ErrInsufficientStamina = errors.New("insufficient stamina")

	// Progression Errors
	ErrSceneConflict      = errors.New("scene already exists for this key")
	ErrChoiceAlreadyMade  = errors.New("choice already recorded for this scene")
	ErrOutOfOrderAdvance  = errors.New("advance target is ahead of persisted progress")
	ErrInvalidChoiceIndex = errors.New("choice index out of range for scene")

	// Graph Errors
	ErrGraphIntegrity = errors.New("scene graph integrity violation")

	// Mint Errors
	ErrSceneNotMintable = errors.New("scene is not eligible for minting")
	ErrAlreadyMinted    = errors.New("scene has already been minted")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidInput   = errors.New("invalid input data")
)
