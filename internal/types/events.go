package types

// Utterance is one finalized dialog group
type Utterance struct {
	// Time is the overlay play time when the dialog box closed
	Time string
	// Text is the merged, whitespace-collapsed utterance
	Text string
	// Lines are the merged lines the text was joined from
	Lines []string
}

// FrameEvent is published for every frame whose text grid changed
type FrameEvent struct {
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
	TimestampS int64  `json:"timestamp_s" msgpack:"timestamp_s"`
	DenseDelta string `json:"dithered_delta" msgpack:"dithered_delta"`
	Seq        uint64 `json:"seq" msgpack:"seq"`
	TraceID    string `json:"trace_id,omitempty" msgpack:"trace_id,omitempty"`
}

// DialogEvent is published for every finalized utterance
type DialogEvent struct {
	Time  string   `json:"time" msgpack:"time"`
	Text  string   `json:"text" msgpack:"text"`
	Lines []string `json:"lines" msgpack:"lines"`
}
