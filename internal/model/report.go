package model

// Report is the frozen view of a session at compilation time.
type Report struct {
	Order       string  `json:"order"`
	Operator    string  `json:"operator"`
	StartedAt   string  `json:"started_at"`
	CompletedAt string  `json:"completed_at"`
	Version     string  `json:"version"`
	Seq         int     `json:"seq"`
	Blocks      []Block `json:"blocks"`
}

// HistoryEntry links a compiled report to its artifact.
type HistoryEntry struct {
	Order     string `json:"order"`
	File      string `json:"file"`
	CreatedAt string `json:"created_at"`
	Seq       int    `json:"seq"`
}
