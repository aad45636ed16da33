package deploy

import "time"

// History is the locally persisted record of deploys performed against a
// target, newest entry last.
type History struct {
	Entries []Entry `json:"entries"`
}

// Entry describes a single deploy or rollback.
type Entry struct {
	ReleaseID string    `json:"release_id"`
	Version   string    `json:"version,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Rollback  bool      `json:"rollback,omitempty"`
	Time      time.Time `json:"time"`
}
