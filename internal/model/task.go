package model

import "fmt"

// FetchTask asks a worker to fetch and apply one event type over an
// inclusive block range.
type FetchTask struct {
	Stream    string `json:"stream"`
	EventName string `json:"event_name"`
	Topic0    string `json:"event_signature"`
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
}

// ID is stable for a given stream and range, so re-enqueueing the same
// range after a crash collapses onto the same job.
func (t FetchTask) ID() string {
	return fmt.Sprintf("%s:%d-%d", t.Stream, t.FromBlock, t.ToBlock)
}

// StreamName is the cursor stream for a tracked event name.
func StreamName(eventName string) string {
	return "crawl:" + eventName
}
