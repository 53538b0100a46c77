package simulation

import (
	"fmt"
	"time"
)

// Operation is one recorded MongoDB interaction
type Operation struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`    // mongo_connect, mongo_execute
	Target    string                 `json:"target"`  // host the operation was sent to
	Details   string                 `json:"details"` // connection string or command document
	Result    string                 `json:"result"`  // success, failure
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SimulatedReplicaSet is the replica set config accepted by replSetInitiate
type SimulatedReplicaSet struct {
	Name    string
	Members []string
}

// SimulatedUser is an account accepted by createUser
type SimulatedUser struct {
	Name  string
	DB    string
	Roles []SimulatedRole
}

// SimulatedRole is a role grant on a simulated user
type SimulatedRole struct {
	Role string `bson:"role" json:"role"`
	DB   string `bson:"db" json:"db"`
}

// ConfiguredFailure makes matching operations fail.
// Target "*" matches every target of the operation type; otherwise the
// failure applies when Target is a substring of "<host>: <details>".
// A non-zero Code turns the failure into a server command error.
type ConfiguredFailure struct {
	Operation string
	Target    string
	Error     string
	Code      int32
	CodeName  string
}

// SimulationState is the in-memory view of the simulated node
type SimulationState struct {
	Operations []Operation
	StartTime  time.Time
	ReplicaSet *SimulatedReplicaSet
	Users      map[string]*SimulatedUser // keyed by user@db
	// Authenticated user per host, set by credentialed connects
	Sessions map[string]string
}

// NewSimulationState creates a new simulation state
func NewSimulationState() *SimulationState {
	return &SimulationState{
		Operations: make([]Operation, 0),
		StartTime:  time.Now(),
		Users:      make(map[string]*SimulatedUser),
		Sessions:   make(map[string]string),
	}
}

// RecordOperation adds an operation to the simulation state
func (s *SimulationState) RecordOperation(opType, target, details string, metadata map[string]interface{}) {
	op := Operation{
		ID:        generateOperationID(len(s.Operations)),
		Type:      opType,
		Target:    target,
		Details:   details,
		Result:    "success",
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	s.Operations = append(s.Operations, op)
}

// RecordFailure records a failed operation
func (s *SimulationState) RecordFailure(opType, target, details, errorMsg string) {
	op := Operation{
		ID:        generateOperationID(len(s.Operations)),
		Type:      opType,
		Target:    target,
		Details:   details,
		Result:    "failure",
		Error:     errorMsg,
		Timestamp: time.Now(),
	}
	s.Operations = append(s.Operations, op)
}

func generateOperationID(index int) string {
	return fmt.Sprintf("op-%04d", index+1)
}

func userKey(name, db string) string {
	return name + "@" + db
}
