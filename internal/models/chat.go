package models

import "time"

// TokenInfo describes a teacher API token and its usage stats.
type TokenInfo struct {
	Token           string    `json:"token"`
	RequestCount    int       `json:"request_count"`
	LastRequestTime time.Time `json:"last_request_time"`
	CreatedTime     time.Time `json:"created_time"`
}

// ChatClassMapping binds a Telegram chat to the classroom it reports
// on. Stored in redis, keyed by chat id.
type ChatClassMapping struct {
	ClassroomID     int64     `json:"classroom_id"`
	Name            string    `json:"name"`
	Comment         string    `json:"comment"`
	AssociationTime time.Time `json:"association_time"`
	RegisteredBy    int64     `json:"registered_by"`
}
