package model

import "errors"

// ErrBackpressure reports that a recalculation could not be queued
// because the queue is full.
var ErrBackpressure = errors.New("recalculation queue is full")

// RecalcStatus is the outcome of an asynchronous recalculation request.
type RecalcStatus string

// Recalculation request outcomes.
const (
	RecalcAccepted  RecalcStatus = "accepted"
	RecalcDuplicate RecalcStatus = "duplicate"
	RecalcRejected  RecalcStatus = "rejected"
)
