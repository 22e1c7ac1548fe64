package record

import "time"

// Progress is the counter set reported to pollers while a search runs.
// The field names follow the JSON the front end consumes.
type Progress struct {
	ADSQueries          int   `json:"n_ads_queries"`
	AuthorsQueried      int   `json:"n_authors_queried"`
	DocsQueried         int   `json:"n_docs_queried"`
	DocsLoaded          int   `json:"n_docs_loaded"`
	DocsRelevant        int   `json:"n_docs_relevant"`
	PathFindingComplete bool  `json:"path_finding_complete"`
	Timestamp           int64 `json:"timestamp"`
}

// NewProgress returns a zeroed Progress timestamped now.
func NewProgress() *Progress {
	return &Progress{Timestamp: time.Now().Unix()}
}
