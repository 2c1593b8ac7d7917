// Package catalog records what a snapshot run actually did, so
// archives can be verified and audited after the fact.
package catalog

import "time"

type Catalog struct {
	SnapshotID          string    `json:"snapshot_id"`
	Source              string    `json:"source"`
	Query               string    `json:"query"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	NumSourceRecords    int       `json:"num_source_records"`
	NumRecordsProcessed int       `json:"num_records_processed"`
	NumFilesWritten     int       `json:"num_files_written"`
	Success             bool      `json:"success"`
	Error               string    `json:"error,omitempty"`
}
