package admin

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/zph/mongo-bootstrap/pkg/config"
	"github.com/zph/mongo-bootstrap/pkg/logger"
)

const adminDB = "admin"

// Recorder receives the driver calls a Client would make. It is used in
// simulation mode instead of a real connection.
type Recorder interface {
	MongoExecute(host string, command string) (output string, err error)
}

// Client runs administrative commands against a single node, either for
// real or against a Recorder
type Client struct {
	recorder   Recorder
	realClient *mongo.Client
	conn       config.Connection
	host       string
}

// Connect opens a client to the node addressed by conn and pings it.
// When rec is non-nil no network connection is made.
func Connect(ctx context.Context, conn config.Connection, rec Recorder) (*Client, error) {
	client := &Client{
		recorder: rec,
		conn:     conn,
		host:     HostFromURI(conn.URI),
	}

	if rec != nil {
		if _, err := rec.MongoExecute(client.host, client.connectDescription()); err != nil {
			return nil, &Error{Op: "connect", Kind: KindConnection, Err: err}
		}
	} else {
		opts := options.Client().ApplyURI(conn.URI)
		if conn.ServerSelectionTimeout > 0 {
			opts.SetServerSelectionTimeout(conn.ServerSelectionTimeout)
		}
		if conn.ConnectTimeout > 0 {
			opts.SetConnectTimeout(conn.ConnectTimeout)
		}
		if conn.Direct {
			opts.SetDirect(true)
		}
		if conn.Username != "" {
			opts.SetAuth(options.Credential{
				AuthSource:  authSource(conn),
				Username:    conn.Username,
				Password:    conn.Password,
				PasswordSet: true,
			})
		}

		logger.Debug("Connecting to %s (direct=%v)", client.host, conn.Direct)
		realClient, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, &Error{Op: "connect", Kind: KindConnection, Err: fmt.Errorf("failed to connect to %s: %w", client.host, err)}
		}
		client.realClient = realClient
	}

	// mongo.Connect is lazy; ping surfaces unreachable hosts and bad credentials
	if err := client.RunCommand(ctx, adminDB, bson.D{{Key: "ping", Value: 1}}, nil); err != nil {
		_ = client.Disconnect(ctx)
		if e, ok := kindOf(err); ok {
			e.Op = "connect"
			if e.Code == 0 || e.Code == CodeAuthenticationFailed {
				e.Kind = KindConnection
			}
		}
		return nil, err
	}

	return client, nil
}

func authSource(conn config.Connection) string {
	if conn.AuthSource != "" {
		return conn.AuthSource
	}
	return adminDB
}

func (c *Client) connectDescription() string {
	desc := fmt.Sprintf("mongo.Connect(%s)", c.conn.URI)
	if c.conn.Username != "" {
		desc += fmt.Sprintf(" auth=%s@%s", c.conn.Username, authSource(c.conn))
	}
	return desc
}

// Host returns the host the client talks to
func (c *Client) Host() string {
	return c.host
}

// IsSimulation reports whether commands go to a Recorder
func (c *Client) IsSimulation() bool {
	return c.recorder != nil
}

// RunCommand executes cmd against db and decodes the reply into result,
// which may be nil
func (c *Client) RunCommand(ctx context.Context, db string, cmd bson.D, result interface{}) error {
	name := commandName(cmd)

	if c.recorder != nil {
		cmdJSON, err := bson.MarshalExtJSON(redact(cmd), false, false)
		if err != nil {
			return classify(name, fmt.Errorf("failed to encode command: %w", err))
		}
		out, err := c.recorder.MongoExecute(c.host, fmt.Sprintf("client.Database(%q).RunCommand(%s)", db, cmdJSON))
		if err != nil {
			return classify(name, err)
		}
		if result == nil || out == "" {
			return nil
		}
		if err := bson.UnmarshalExtJSON([]byte(out), false, result); err != nil {
			return classify(name, fmt.Errorf("failed to decode simulated reply: %w", err))
		}
		return nil
	}

	logger.Debug("Running %s on %s.%s", name, c.host, db)
	sr := c.realClient.Database(db).RunCommand(ctx, cmd)
	if result == nil {
		return classify(name, sr.Err())
	}
	return classify(name, sr.Decode(result))
}

// Disconnect closes the connection
func (c *Client) Disconnect(ctx context.Context) error {
	if c.realClient != nil {
		return c.realClient.Disconnect(ctx)
	}
	return nil
}

func commandName(cmd bson.D) string {
	if len(cmd) == 0 {
		return "command"
	}
	return cmd[0].Key
}

// redact masks password fields so recorded commands are safe to print
func redact(cmd bson.D) bson.D {
	out := make(bson.D, len(cmd))
	for i, e := range cmd {
		if e.Key == "pwd" {
			e.Value = "********"
		}
		out[i] = e
	}
	return out
}

// HostFromURI returns the comma separated host list of a connection string.
// A mongodb+srv uri is resolved to its seed list. An unparsable uri is
// returned as is.
func HostFromURI(uri string) string {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil || len(cs.Hosts) == 0 {
		return uri
	}
	return strings.Join(cs.Hosts, ",")
}
