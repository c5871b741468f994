package models

import "time"

// JobRecord is a job's row in the ledger.
type JobRecord struct {
	ID         string     `json:"id"`
	Template   string     `json:"template"`
	Output     string     `json:"output"`
	Status     JobState   `json:"status"`
	ErrorText  *string    `json:"error_text,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
