package models

import "time"

// AccessRecord is one served request, as stored in the access log
type AccessRecord struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	Bytes      int64     `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusCount is the number of access records with a given status code
type StatusCount struct {
	Status int   `json:"status"`
	Count  int64 `json:"count"`
}
