package model

import "time"

// RunStatus represents the current state of a ranking run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one execution of the ranking pipeline over a batch of clients.
type Run struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	CatalogHash string    `json:"catalog_hash"`
	TopN        int       `json:"top_n"`
	Clients     int       `json:"clients"`
	Products    int       `json:"products"`
	Source      string    `json:"source,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
