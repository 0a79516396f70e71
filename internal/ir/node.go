package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NodeType is the closed set of flow node kinds.
type NodeType string

const (
	NodeEntry       NodeType = "entry"
	NodeDialogue    NodeType = "dialogue"
	NodeCondition   NodeType = "condition"
	NodeInstruction NodeType = "instruction"
	NodeHub         NodeType = "hub"
	NodeJump        NodeType = "jump"
	NodeSubflow     NodeType = "subflow"
	NodeScene       NodeType = "scene"
	NodeExit        NodeType = "exit"
)

// NodeTypes lists every node type in declaration order.
var NodeTypes = []NodeType{
	NodeEntry, NodeDialogue, NodeCondition, NodeInstruction, NodeHub,
	NodeJump, NodeSubflow, NodeScene, NodeExit,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Standard pin names.
const (
	PinDefault = "default"
	PinOutput  = "output" // legacy default pin
	PinTrue    = "true"
	PinFalse   = "false"
)

// NodeData is the sealed union of per-type node payloads.
type NodeData interface {
	nodeData() // Sealed - only the *Data types below implement it
}

// EntryData is the (empty) payload of an entry node.
type EntryData struct{}

func (EntryData) nodeData() {}

// DialogueData is a line of dialogue with optional player responses.
type DialogueData struct {
	Speaker         string     `json:"speaker,omitempty"`
	Text            string     `json:"text"`
	StageDirections string     `json:"stage_directions,omitempty"`
	MenuText        string     `json:"menu_text,omitempty"`
	Responses       []Response `json:"responses,omitempty"`
}

func (DialogueData) nodeData() {}

// Response is a player choice on a dialogue node. A response is valid when
// it has no condition or its condition evaluates true. The outgoing pin of
// a response is its ID.
type Response struct {
	ID              ID           `json:"id"`
	Text            string       `json:"text"`
	Condition       *Condition   `json:"condition,omitempty"`
	ConditionText   string       `json:"condition_text,omitempty"`
	Instruction     []Assignment `json:"instruction,omitempty"`
	InstructionText string       `json:"instruction_text,omitempty"`
}

// ConditionData branches on a condition. In boolean mode the pins are
// "true"/"false"; in switch mode every rule carries a label naming its pin.
type ConditionData struct {
	Condition  Condition `json:"condition"`
	Expression string    `json:"expression,omitempty"`
	SwitchMode bool      `json:"switch_mode,omitempty"`
}

func (ConditionData) nodeData() {}

// InstructionData mutates variables. Source is the text form used when no
// structured assignments are stored.
type InstructionData struct {
	Assignments []Assignment `json:"assignments,omitempty"`
	Source      string       `json:"source,omitempty"`
}

func (InstructionData) nodeData() {}

// HubData is a named rendezvous that jump nodes target.
type HubData struct {
	HubID string `json:"hub_id"`
	Label string `json:"label,omitempty"`
	Color string `json:"color,omitempty"`
}

func (HubData) nodeData() {}

// JumpData transfers control to the hub with HubID == TargetHubID.
type JumpData struct {
	TargetHubID string `json:"target_hub_id"`
}

func (JumpData) nodeData() {}

// SubflowData calls another flow and resumes after it returns.
type SubflowData struct {
	ReferencedFlowID ID `json:"referenced_flow_id,omitempty"`
}

func (SubflowData) nodeData() {}

// SceneData marks a scene change; it has no runtime effect.
type SceneData struct {
	Location    string `json:"location,omitempty"`
	TimeOfDay   string `json:"time_of_day,omitempty"`
	Description string `json:"description,omitempty"`
}

func (SceneData) nodeData() {}

// ExitMode selects what happens when an exit node is reached.
type ExitMode string

const (
	ExitTerminal      ExitMode = "terminal"
	ExitFlowReference ExitMode = "flow_reference"
	ExitCallerReturn  ExitMode = "caller_return"
)

// ExitData ends a flow.
type ExitData struct {
	ExitMode         ExitMode `json:"exit_mode,omitempty"`
	ReferencedFlowID ID       `json:"referenced_flow_id,omitempty"`
	TargetType       string   `json:"target_type,omitempty"`
	TargetID         ID       `json:"target_id,omitempty"`
	Label            string   `json:"label,omitempty"`
}

func (ExitData) nodeData() {}

// FlowNode is one node of a flow graph. Data holds the payload matching
// Type; it is nil when Type is not a known node type.
type FlowNode struct {
	ID   ID       `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data,omitempty"`
}

// UnmarshalJSON decodes the data payload according to the node type.
func (n *FlowNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   ID              `json:"id"`
		Type NodeType        `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.ID = raw.ID
	n.Type = raw.Type

	payload := bytes.TrimSpace(raw.Data)
	if len(payload) == 0 || string(payload) == "null" {
		payload = []byte("{}")
	}

	var err error
	switch raw.Type {
	case NodeEntry:
		n.Data = EntryData{}
	case NodeDialogue:
		n.Data, err = decodeData[DialogueData](payload)
	case NodeCondition:
		n.Data, err = decodeData[ConditionData](payload)
	case NodeInstruction:
		n.Data, err = decodeData[InstructionData](payload)
	case NodeHub:
		n.Data, err = decodeData[HubData](payload)
	case NodeJump:
		n.Data, err = decodeData[JumpData](payload)
	case NodeSubflow:
		n.Data, err = decodeData[SubflowData](payload)
	case NodeScene:
		n.Data, err = decodeData[SceneData](payload)
	case NodeExit:
		n.Data, err = decodeData[ExitData](payload)
	default:
		n.Data = nil
	}
	if err != nil {
		return fmt.Errorf("node %s (%s) data: %w", raw.ID, raw.Type, err)
	}
	return nil
}

func decodeData[T NodeData](payload []byte) (NodeData, error) {
	var d T
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Connection links an output pin of one node to an input pin of another.
type Connection struct {
	SourceNodeID ID     `json:"source_node_id"`
	SourcePin    string `json:"source_pin"`
	TargetNodeID ID     `json:"target_node_id"`
	TargetPin    string `json:"target_pin,omitempty"`
}
