package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/logger"
)

const (
	StatePrimary   = "PRIMARY"
	StateSecondary = "SECONDARY"
	StateArbiter   = "ARBITER"
)

var errNoPrimary = errors.New("no primary")

// ReplicaSetStatus is the part of replSetGetStatus the tool reports
type ReplicaSetStatus struct {
	Set     string         `bson:"set" json:"set" yaml:"set"`
	MyState int            `bson:"myState" json:"my_state" yaml:"my_state"`
	Members []MemberStatus `bson:"members" json:"members" yaml:"members"`
}

// MemberStatus is one entry of replSetGetStatus.members
type MemberStatus struct {
	ID       int     `bson:"_id" json:"id" yaml:"id"`
	Name     string  `bson:"name" json:"name" yaml:"name"`
	Health   float64 `bson:"health" json:"health" yaml:"health"`
	State    int     `bson:"state" json:"state" yaml:"state"`
	StateStr string  `bson:"stateStr" json:"state_str" yaml:"state_str"`
	Self     bool    `bson:"self" json:"self" yaml:"self"`
}

// Primary returns the member reporting PRIMARY, or nil
func (s *ReplicaSetStatus) Primary() *MemberStatus {
	if s == nil {
		return nil
	}
	for i := range s.Members {
		if s.Members[i].StateStr == StatePrimary {
			return &s.Members[i]
		}
	}
	return nil
}

// InitiateCommand builds the replSetInitiate document for rs
func InitiateCommand(rs config.ReplicaSet) bson.D {
	members := bson.A{}
	for _, m := range rs.Members {
		members = append(members, bson.D{
			{Key: "_id", Value: m.ID},
			{Key: "host", Value: m.Host},
			{Key: "priority", Value: m.EffectivePriority()},
		})
	}

	return bson.D{
		{Key: "replSetInitiate", Value: bson.D{
			{Key: "_id", Value: rs.Name},
			{Key: "version", Value: 1},
			{Key: "members", Value: members},
		}},
	}
}

// InitiateReplicaSet submits rs to replSetInitiate. A node that already
// belongs to a replica set is reported as an error (see IsAlreadyInitialized).
func (c *Client) InitiateReplicaSet(ctx context.Context, rs config.ReplicaSet) error {
	logger.Debug("Initiating replica set %s with %d member(s)", rs.Name, len(rs.Members))
	return c.RunCommand(ctx, adminDB, InitiateCommand(rs), nil)
}

// ReplicaSetStatus runs replSetGetStatus
func (c *Client) ReplicaSetStatus(ctx context.Context) (*ReplicaSetStatus, error) {
	var status ReplicaSetStatus
	if err := c.RunCommand(ctx, adminDB, bson.D{{Key: "replSetGetStatus", Value: 1}}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForPrimary polls replSetGetStatus until a member reports PRIMARY or
// timeout elapses. A zero timeout queries once.
func (c *Client) WaitForPrimary(ctx context.Context, timeout, interval time.Duration) (*ReplicaSetStatus, error) {
	if timeout <= 0 {
		return c.ReplicaSetStatus(ctx)
	}
	if interval <= 0 {
		interval = time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		lastStatus *ReplicaSetStatus
		lastErr    error
		attempt    int
	)
	poll := func() error {
		attempt++
		status, err := c.ReplicaSetStatus(waitCtx)
		if err != nil {
			lastErr = err
			logger.Debug("  Attempt %d: replSetGetStatus failed: %v", attempt, err)
			return err
		}
		lastStatus, lastErr = status, nil
		if status.Primary() == nil {
			logger.Debug("  Attempt %d: no primary yet in %s", attempt, status.Set)
			return errNoPrimary
		}
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), waitCtx)
	if err := backoff.Retry(poll, b); err != nil {
		if lastErr != nil {
			return lastStatus, fmt.Errorf("timeout waiting for primary election: %w", lastErr)
		}
		if lastStatus == nil {
			return nil, fmt.Errorf("timeout waiting for primary election: %w", err)
		}
		return lastStatus, fmt.Errorf("timeout waiting for primary election in replica set %s", lastStatus.Set)
	}
	return lastStatus, nil
}
