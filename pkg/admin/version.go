package admin

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-version"
	"go.mongodb.org/mongo-driver/bson"
)

// ServerVersion runs buildInfo and parses the reported version
func (c *Client) ServerVersion(ctx context.Context) (*version.Version, error) {
	var reply struct {
		Version string `bson:"version"`
	}
	if err := c.RunCommand(ctx, adminDB, bson.D{{Key: "buildInfo", Value: 1}}, &reply); err != nil {
		return nil, err
	}

	v, err := version.NewVersion(reply.Version)
	if err != nil {
		return nil, classify("buildInfo", fmt.Errorf("failed to parse server version %q: %w", reply.Version, err))
	}
	return v, nil
}

// CheckServerVersion fails when v is older than minimum. Build suffixes
// such as Percona's "-4" are ignored. An empty minimum disables the check.
func CheckServerVersion(v *version.Version, minimum string) error {
	if minimum == "" {
		return nil
	}
	minV, err := version.NewVersion(minimum)
	if err != nil {
		return fmt.Errorf("invalid minimum server version %q: %w", minimum, err)
	}
	if v.Core().LessThan(minV) {
		return &Error{
			Op:   "buildInfo",
			Kind: KindRejected,
			Err:  fmt.Errorf("server version %s is older than required %s", v, minV),
		}
	}
	return nil
}
