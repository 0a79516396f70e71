package ir

// SessionRecord describes one recorded play session.
type SessionRecord struct {
	ID            string `json:"id"`
	ProjectName   string `json:"project_name"`
	FlowID        ID     `json:"flow_id"`
	Seq           int64  `json:"seq"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

// StepRecord is one engine step taken during a session.
type StepRecord struct {
	SessionID       string   `json:"session_id"`
	Seq             int64    `json:"seq"`
	Step            int      `json:"step"`
	FlowID          ID       `json:"flow_id"`
	NodeID          ID       `json:"node_id"`
	NodeType        NodeType `json:"node_type,omitempty"`
	Outcome         string   `json:"outcome"`
	VariablesDigest string   `json:"variables_digest"`

	// ResponseID is the response chosen, for steps that resolve a choice.
	ResponseID ID `json:"response_id,omitempty"`
}

// ConsoleLine is one console entry persisted with a session.
type ConsoleLine struct {
	Step    int    `json:"step"`
	NodeID  ID     `json:"node_id,omitempty"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// SessionOutcome is the final state of a session.
type SessionOutcome struct {
	SessionID string           `json:"session_id"`
	Seq       int64            `json:"seq"`
	Status    string           `json:"status"`
	NodeID    ID               `json:"node_id"`
	StepCount int              `json:"step_count"`
	ErrorCode string           `json:"error_code,omitempty"`
	Variables map[string]Value `json:"variables"`
	Console   []ConsoleLine    `json:"console"`
}
