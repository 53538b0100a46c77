package simulation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	OpConnect = "mongo_connect"
	OpExecute = "mongo_execute"

	connectPrefix = "mongo.Connect("
	authMarker    = ") auth="
	commandPrefix = `client.Database("`
	commandInfix  = `").RunCommand(`
)

// SimulationExecutor stands in for a MongoDB node. It records every
// connection and command it receives and answers from in-memory state, so
// a bootstrap run can be rehearsed without touching a server.
type SimulationExecutor struct {
	config *Config
	state  *SimulationState
	mu     sync.RWMutex
}

// NewExecutor creates a new simulation executor
func NewExecutor(config *Config) *SimulationExecutor {
	exec := &SimulationExecutor{
		config: config,
		state:  NewSimulationState(),
	}

	exec.initializePreconfiguredState()

	return exec
}

func (e *SimulationExecutor) initializePreconfiguredState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.mu.RLock()
	defer e.config.mu.RUnlock()

	if rs := e.config.ExistingReplicaSet; rs != nil {
		e.state.ReplicaSet = &SimulatedReplicaSet{
			Name:    rs.Name,
			Members: append([]string(nil), rs.Members...),
		}
	}

	for _, u := range e.config.ExistingUsers {
		user := u
		user.Roles = append([]SimulatedRole(nil), u.Roles...)
		e.state.Users[userKey(u.Name, u.DB)] = &user
	}
}

// GetOperations returns all recorded operations
func (e *SimulationExecutor) GetOperations() []Operation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Operation(nil), e.state.Operations...)
}

// GetState returns the current simulation state
func (e *SimulationExecutor) GetState() *SimulationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// MongoExecute simulates a MongoDB driver call against host. command is
// either `mongo.Connect(<uri>)`, optionally followed by ` auth=<user>@<db>`,
// or `client.Database("<db>").RunCommand(<extended JSON>)`.
func (e *SimulationExecutor) MongoExecute(host string, command string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	opType := OpExecute
	if strings.HasPrefix(command, connectPrefix) {
		opType = OpConnect
	}

	target := fmt.Sprintf("%s: %s", host, command)
	if failure, ok := e.config.ShouldFail(opType, target); ok {
		e.state.RecordFailure(opType, host, command, failure.Error)
		return "", failureError(failure)
	}

	var (
		response string
		err      error
	)
	if opType == OpConnect {
		err = e.connect(host, command)
	} else {
		response, err = e.runCommand(host, command)
	}

	if err != nil {
		e.state.RecordFailure(opType, host, command, err.Error())
		return "", err
	}

	e.state.RecordOperation(opType, host, command, map[string]interface{}{
		"output": response,
	})

	return response, nil
}

func failureError(f *ConfiguredFailure) error {
	if f.Code != 0 {
		return mongo.CommandError{Code: f.Code, Name: f.CodeName, Message: f.Error}
	}
	return errors.New(f.Error)
}

func (e *SimulationExecutor) connect(host, command string) error {
	idx := strings.Index(command, authMarker)
	if idx < 0 {
		delete(e.state.Sessions, host)
		return nil
	}

	principal := command[idx+len(authMarker):]
	if _, ok := e.state.Users[principal]; !ok {
		return mongo.CommandError{Code: 18, Name: "AuthenticationFailed", Message: "Authentication failed."}
	}
	e.state.Sessions[host] = principal
	return nil
}

func parseCommand(command string) (string, bson.D, error) {
	if !strings.HasPrefix(command, commandPrefix) || !strings.HasSuffix(command, ")") {
		return "", nil, fmt.Errorf("unrecognized simulated command: %s", command)
	}
	rest := strings.TrimPrefix(command, commandPrefix)
	idx := strings.Index(rest, commandInfix)
	if idx < 0 {
		return "", nil, fmt.Errorf("unrecognized simulated command: %s", command)
	}
	db := rest[:idx]
	payload := strings.TrimSuffix(rest[idx+len(commandInfix):], ")")

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(payload), false, &doc); err != nil {
		return "", nil, fmt.Errorf("failed to parse simulated command: %w", err)
	}
	if len(doc) == 0 {
		return "", nil, fmt.Errorf("empty simulated command")
	}
	return db, doc, nil
}

func (e *SimulationExecutor) runCommand(host, command string) (string, error) {
	db, doc, err := parseCommand(command)
	if err != nil {
		return "", err
	}

	name := doc[0].Key
	if response, ok := e.config.GetResponse(name); ok {
		return response, nil
	}

	var reply bson.D
	switch name {
	case "replSetInitiate":
		reply, err = e.replSetInitiate(doc)
	case "replSetGetStatus":
		reply, err = e.replSetGetStatus()
	case "createUser":
		reply, err = e.createUser(db, doc)
	case "connectionStatus":
		reply = e.connectionStatus(host)
	default:
		reply = bson.D{{Key: "ok", Value: 1}}
	}
	if err != nil {
		return "", err
	}

	out, err := bson.MarshalExtJSON(reply, false, false)
	if err != nil {
		return "", fmt.Errorf("failed to encode simulated reply: %w", err)
	}
	return string(out), nil
}

func (e *SimulationExecutor) replSetInitiate(doc bson.D) (bson.D, error) {
	if e.state.ReplicaSet != nil {
		return nil, mongo.CommandError{Code: 23, Name: "AlreadyInitialized", Message: "already initialized"}
	}

	cfg, ok := doc[0].Value.(bson.D)
	if !ok {
		return nil, mongo.CommandError{Code: 14, Name: "TypeMismatch", Message: "replSetInitiate expects a config document"}
	}

	rs := &SimulatedReplicaSet{}
	rs.Name, _ = lookup(cfg, "_id").(string)
	members, _ := lookup(cfg, "members").(bson.A)
	for _, m := range members {
		member, ok := m.(bson.D)
		if !ok {
			continue
		}
		if host, ok := lookup(member, "host").(string); ok {
			rs.Members = append(rs.Members, host)
		}
	}
	if rs.Name == "" || len(rs.Members) == 0 {
		return nil, mongo.CommandError{Code: 93, Name: "InvalidReplicaSetConfig", Message: "replica set config needs _id and members"}
	}

	e.state.ReplicaSet = rs
	return bson.D{{Key: "ok", Value: 1}}, nil
}

func (e *SimulationExecutor) replSetGetStatus() (bson.D, error) {
	rs := e.state.ReplicaSet
	if rs == nil {
		return nil, mongo.CommandError{Code: 94, Name: "NotYetInitialized", Message: "no replset config has been received"}
	}

	members := bson.A{}
	for i, host := range rs.Members {
		state, stateStr := 2, "SECONDARY"
		if i == 0 {
			state, stateStr = 1, "PRIMARY"
		}
		members = append(members, bson.D{
			{Key: "_id", Value: i},
			{Key: "name", Value: host},
			{Key: "health", Value: 1.0},
			{Key: "state", Value: state},
			{Key: "stateStr", Value: stateStr},
			{Key: "self", Value: i == 0},
		})
	}

	return bson.D{
		{Key: "set", Value: rs.Name},
		{Key: "myState", Value: 1},
		{Key: "members", Value: members},
		{Key: "ok", Value: 1},
	}, nil
}

func (e *SimulationExecutor) createUser(db string, doc bson.D) (bson.D, error) {
	name, _ := doc[0].Value.(string)
	if name == "" {
		return nil, mongo.CommandError{Code: 2, Name: "BadValue", Message: "User name must be a non-empty string"}
	}

	key := userKey(name, db)
	if _, exists := e.state.Users[key]; exists {
		return nil, mongo.CommandError{
			Code:    51003,
			Name:    "Location51003",
			Message: fmt.Sprintf("User %q already exists", key),
		}
	}

	user := &SimulatedUser{Name: name, DB: db}
	roles, _ := lookup(doc, "roles").(bson.A)
	for _, r := range roles {
		role, ok := r.(bson.D)
		if !ok {
			continue
		}
		roleName, _ := lookup(role, "role").(string)
		roleDB, _ := lookup(role, "db").(string)
		user.Roles = append(user.Roles, SimulatedRole{Role: roleName, DB: roleDB})
	}

	e.state.Users[key] = user
	return bson.D{{Key: "ok", Value: 1}}, nil
}

func (e *SimulationExecutor) connectionStatus(host string) bson.D {
	users := bson.A{}
	roles := bson.A{}
	if user, ok := e.state.Users[e.state.Sessions[host]]; ok {
		users = append(users, bson.D{{Key: "user", Value: user.Name}, {Key: "db", Value: user.DB}})
		for _, r := range user.Roles {
			roles = append(roles, bson.D{{Key: "role", Value: r.Role}, {Key: "db", Value: r.DB}})
		}
	}

	return bson.D{
		{Key: "authInfo", Value: bson.D{
			{Key: "authenticatedUsers", Value: users},
			{Key: "authenticatedUserRoles", Value: roles},
		}},
		{Key: "ok", Value: 1},
	}
}

func lookup(doc bson.D, key string) interface{} {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}
