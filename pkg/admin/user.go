package admin

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/logger"
)

// AuthInfo is the authInfo section of connectionStatus
type AuthInfo struct {
	Users []UserRef     `bson:"authenticatedUsers"`
	Roles []config.Role `bson:"authenticatedUserRoles"`
}

// UserRef names an authenticated principal
type UserRef struct {
	User string `bson:"user"`
	DB   string `bson:"db"`
}

// CreateUserCommand builds the createUser document for u
func CreateUserCommand(u config.AdminUser) bson.D {
	roles := bson.A{}
	for _, r := range u.Roles {
		roles = append(roles, bson.D{{Key: "role", Value: r.Role}, {Key: "db", Value: r.DB}})
	}

	return bson.D{
		{Key: "createUser", Value: u.Username},
		{Key: "pwd", Value: u.Password},
		{Key: "roles", Value: roles},
	}
}

// CreateUser submits createUser against the user's database. An existing
// user is reported as an error (see IsUserExists).
func (c *Client) CreateUser(ctx context.Context, u config.AdminUser) error {
	logger.Debug("Creating user %s@%s with %d role(s)", u.Username, u.Database, len(u.Roles))
	return c.RunCommand(ctx, u.Database, CreateUserCommand(u), nil)
}

// ConnectionStatus reports who the client is authenticated as
func (c *Client) ConnectionStatus(ctx context.Context) (*AuthInfo, error) {
	var reply struct {
		AuthInfo AuthInfo `bson:"authInfo"`
	}
	if err := c.RunCommand(ctx, adminDB, bson.D{{Key: "connectionStatus", Value: 1}}, &reply); err != nil {
		return nil, err
	}
	return &reply.AuthInfo, nil
}

// HasRoles reports whether every role in want was granted
func (a *AuthInfo) HasRoles(want []config.Role) bool {
	granted := make(map[config.Role]bool, len(a.Roles))
	for _, r := range a.Roles {
		granted[r] = true
	}
	for _, r := range want {
		if !granted[r] {
			return false
		}
	}
	return true
}
