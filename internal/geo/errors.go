package geo

import "errors"

var (
	// ErrResolutionNotFound is returned in strict mode when no cascade step
	// matched and entity creation is forbidden.
	ErrResolutionNotFound = errors.New("resolution not found")

	// ErrResolutionAmbiguous is wrapped alongside ErrResolutionNotFound when
	// a strict resolve fails after a fuzzy step had multiple candidates above
	// threshold with no clear winner; the cascade falls through instead of
	// guessing.
	ErrResolutionAmbiguous = errors.New("resolution ambiguous")
)
