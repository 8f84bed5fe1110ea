package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a fresh nanoid for entities, relationships and patterns.
func NewID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source is broken.
		panic(err)
	}
	return id
}

// NewAuditID returns a prefixed id grouping all snapshots of one
// consolidation transaction.
func NewAuditID() string {
	return "audit_" + NewID()
}

// NewCorrelationID returns an id used to tie queue messages of one
// submitted batch together.
func NewCorrelationID() string {
	return "batch_" + NewID()
}
