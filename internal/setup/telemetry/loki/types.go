package loki

// pushRequest is the body of a Loki push.
type pushRequest struct {
	Streams []stream `json:"streams"`
}

// stream is one label set with its values.
type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// entry is one encoded log line waiting to be pushed.
type entry struct {
	timestamp int64 // unix nanoseconds
	line      string
}

// record is the JSON shape of a shipped log line.
type record struct {
	Level     string         `json:"level"`
	Timestamp int64          `json:"ts"`
	Logger    string         `json:"logger,omitempty"`
	Message   string         `json:"msg"`
	Caller    string         `json:"caller,omitempty"`
	Stack     string         `json:"stacktrace,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}
