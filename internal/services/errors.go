package services

import "errors"

var (
	// ErrDepositNotFound is returned when a deposit id does not resolve.
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrOrganNotFound is returned when an organ id does not resolve.
	ErrOrganNotFound = errors.New("organ not found")

	// ErrAllocationNotFound is returned when no allocation exists for an
	// organ/year pair.
	ErrAllocationNotFound = errors.New("allocation not found")
)
