package domain

import "errors"

var (
	ErrJobNotFound      = errors.New("enrichment job not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrInvalidFilter    = errors.New("invalid filter")
	ErrCheckInProgress  = errors.New("link health check already in progress")
)
