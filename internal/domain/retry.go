package domain

import "time"

// RetryItem is a trade whose execution failed with a transient error and is
// scheduled for another attempt.
type RetryItem struct {
	ID          string    `json:"id"`
	Trade       Trade     `json:"trade"`
	Error       string    `json:"error"`
	Kind        ErrorKind `json:"kind"`
	RetryCount  int       `json:"retry_count"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RetryStats is a snapshot of the retry queue and its circuit breaker.
type RetryStats struct {
	QueueSize      int  `json:"queue_size"`
	DeadLetterSize int  `json:"dead_letter_size"`
	CircuitOpen    bool `json:"circuit_open"`
	FailureCount   int  `json:"failure_count"`
}
