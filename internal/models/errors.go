package models

import "errors"

var (
	// ErrNotFound is returned for targets with no partition on disk.
	ErrNotFound = errors.New("target not found")
	// ErrInvalidTarget is returned for malformed addresses.
	ErrInvalidTarget = errors.New("invalid target address")
	// ErrInvalidFilter is returned when query parameters are rejected before querying.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrPartitionBusy means another writer holds the partition.
	ErrPartitionBusy = errors.New("partition already open for writing")
	// ErrAlreadyMonitored means the registry already runs a worker for the address.
	ErrAlreadyMonitored = errors.New("target already monitored")
	// ErrClosed is returned by operations on a closed partition.
	ErrClosed = errors.New("partition closed")
)
