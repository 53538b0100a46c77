package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-password/password"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"gopkg.in/yaml.v3"
)

const (
	DefaultURI              = "mongodb://mongo1/?directConnection=true"
	DefaultReplicaSetName   = "rs0"
	DefaultMemberHost       = "mongo1:27017"
	DefaultAdminUsername    = "admin"
	DefaultAdminDatabase    = "admin"
	DefaultPasswordEnv      = "MONGO_BOOTSTRAP_ADMIN_PASSWORD"
	DefaultMinServerVersion = "4.0"
	DefaultPrimaryWait      = 60 * time.Second

	generatedPasswordLength = 24
	redacted                = "********"
	srvPrefix               = connstring.SchemeMongoDBSRV + "://"
)

// Config is the complete bootstrap input: where to connect, which replica set
// to initiate and which administrative account to create.
type Config struct {
	Connection       Connection `yaml:"connection"`
	ReplicaSet       ReplicaSet `yaml:"replica_set"`
	AdminUser        AdminUser  `yaml:"admin_user"`
	MinServerVersion string     `yaml:"min_server_version,omitempty"`
}

// Connection describes how to reach the node being configured
type Connection struct {
	URI                    string        `yaml:"uri"`
	Direct                 bool          `yaml:"direct"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout,omitempty"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout,omitempty"`
	// Optional credentials for nodes that already enforce authentication
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
	AuthSource string `yaml:"auth_source,omitempty"`
}

// ReplicaSet is the descriptor submitted to replSetInitiate
type ReplicaSet struct {
	Name        string        `yaml:"name"`
	Members     []Member      `yaml:"members"`
	PrimaryWait time.Duration `yaml:"primary_wait,omitempty"`
}

// Member is one replica set member
type Member struct {
	ID       int      `yaml:"id"`
	Host     string   `yaml:"host"` // host:port format
	Priority *float64 `yaml:"priority,omitempty"`
}

// AdminUser is the account submitted to createUser
type AdminUser struct {
	Username         string `yaml:"username"`
	Password         string `yaml:"password,omitempty"`
	PasswordEnv      string `yaml:"password_env,omitempty"`
	GeneratePassword bool   `yaml:"generate_password,omitempty"`
	Database         string `yaml:"database"`
	Roles            []Role `yaml:"roles"`
	VerifyLogin      bool   `yaml:"verify_login,omitempty"`

	// Set when Password was produced by the generator rather than supplied
	PasswordGenerated bool `yaml:"-"`
}

// Role is a role name scoped to a database
type Role struct {
	Role string `yaml:"role"`
	DB   string `yaml:"db"`
}

func (r Role) String() string {
	return fmt.Sprintf("%s@%s", r.Role, r.DB)
}

// ParseRole parses the role@db notation
func ParseRole(s string) (Role, error) {
	idx := strings.LastIndex(s, "@")
	if idx <= 0 || idx == len(s)-1 {
		return Role{}, fmt.Errorf("invalid role %q: expected role@db", s)
	}
	return Role{Role: s[:idx], DB: s[idx+1:]}, nil
}

// EffectivePriority returns the member priority, 1.0 when unset
func (m Member) EffectivePriority() float64 {
	if m.Priority == nil {
		return 1.0
	}
	return *m.Priority
}

// Default returns the configuration matching a single local node named mongo1
func Default() *Config {
	return &Config{
		Connection: Connection{
			URI:                    DefaultURI,
			Direct:                 true,
			ServerSelectionTimeout: 10 * time.Second,
			ConnectTimeout:         10 * time.Second,
		},
		ReplicaSet: ReplicaSet{
			Name:        DefaultReplicaSetName,
			Members:     []Member{{ID: 0, Host: DefaultMemberHost}},
			PrimaryWait: DefaultPrimaryWait,
		},
		AdminUser: AdminUser{
			Username:    DefaultAdminUsername,
			PasswordEnv: DefaultPasswordEnv,
			Database:    DefaultAdminDatabase,
			Roles: []Role{
				{Role: "userAdminAnyDatabase", DB: "admin"},
				{Role: "readWriteAnyDatabase", DB: "admin"},
			},
		},
		MinServerVersion: DefaultMinServerVersion,
	}
}

// ParseFile reads a YAML config file on top of the defaults
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults. Fields absent from the
// document keep their default values; lists present in the document
// replace the default lists.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if cfg.AdminUser.Password == redacted {
		return nil, fmt.Errorf("admin_user.password is the redacted placeholder %q; remove it or set the real password", redacted)
	}
	if cfg.Connection.Password == redacted {
		return nil, fmt.Errorf("connection.password is the redacted placeholder %q; remove it or set the real password", redacted)
	}
	return cfg, nil
}

// ApplyEnv fills the admin password from the environment when it was not
// given explicitly
func (c *Config) ApplyEnv() {
	if c.AdminUser.Password != "" || c.AdminUser.PasswordEnv == "" {
		return
	}
	if pw, ok := os.LookupEnv(c.AdminUser.PasswordEnv); ok {
		c.AdminUser.Password = pw
	}
}

// EnsurePassword generates the admin password when none was supplied and
// generation is enabled
func (c *Config) EnsurePassword() error {
	if c.AdminUser.Password != "" || !c.AdminUser.GeneratePassword {
		return nil
	}
	pw, err := password.Generate(generatedPasswordLength, 6, 0, false, true)
	if err != nil {
		return fmt.Errorf("failed to generate admin password: %w", err)
	}
	c.AdminUser.Password = pw
	c.AdminUser.PasswordGenerated = true
	return nil
}

// Validate checks the connection settings and the admin user
func (c *Config) Validate() error {
	if err := c.Connection.Validate(); err != nil {
		return err
	}
	return c.AdminUser.Validate()
}

// ValidateForReplicaSet additionally checks the replica set descriptor
func (c *Config) ValidateForReplicaSet() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.ReplicaSet.Validate()
}

// Validate checks the connection settings
func (c Connection) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("connection.uri is required")
	}
	// checked before parsing, which resolves SRV records
	if c.Direct && strings.HasPrefix(c.URI, srvPrefix) {
		return fmt.Errorf("connection.direct cannot be used with a %s uri", srvPrefix)
	}
	cs, err := connstring.ParseAndValidate(c.URI)
	if err != nil {
		return fmt.Errorf("invalid connection.uri: %w", err)
	}
	if c.Direct && len(cs.Hosts) > 1 {
		return fmt.Errorf("connection.direct needs a single host, uri names %d", len(cs.Hosts))
	}
	if c.Password != "" && c.Username == "" {
		return fmt.Errorf("connection.password set without connection.username")
	}
	return nil
}

// Validate checks the replica set descriptor
func (r ReplicaSet) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("replica_set.name is required")
	}
	if len(r.Members) == 0 {
		return fmt.Errorf("replica set %s has no members", r.Name)
	}

	seenIDs := make(map[int]bool)
	seenHosts := make(map[string]bool)
	for _, m := range r.Members {
		if _, _, err := SplitHostPort(m.Host); err != nil {
			return fmt.Errorf("replica set member %d: %w", m.ID, err)
		}
		if m.ID < 0 {
			return fmt.Errorf("replica set member %s has negative id %d", m.Host, m.ID)
		}
		if seenIDs[m.ID] {
			return fmt.Errorf("duplicate member id %d in replica set %s", m.ID, r.Name)
		}
		seenIDs[m.ID] = true
		if seenHosts[m.Host] {
			return fmt.Errorf("duplicate member host %s in replica set %s", m.Host, r.Name)
		}
		seenHosts[m.Host] = true
		if m.EffectivePriority() < 0 {
			return fmt.Errorf("replica set member %s has negative priority", m.Host)
		}
	}

	if r.PrimaryWait < 0 {
		return fmt.Errorf("replica_set.primary_wait must not be negative")
	}
	return nil
}

// Validate checks the admin user descriptor
func (u AdminUser) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("admin_user.username is required")
	}
	if u.Database == "" {
		return fmt.Errorf("admin_user.database is required")
	}
	if u.Password == "" {
		return fmt.Errorf("admin_user.password is required (set it in the config, via $%s, with --password, or enable generate_password)", u.PasswordEnv)
	}
	if len(u.Roles) == 0 {
		return fmt.Errorf("admin_user.roles must contain at least one role")
	}
	for i, r := range u.Roles {
		if r.Role == "" || r.DB == "" {
			return fmt.Errorf("admin_user.roles[%d] needs both role and db", i)
		}
	}
	return nil
}

// SplitHostPort parses a host:port member address
func SplitHostPort(hostPort string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", 0, fmt.Errorf("invalid member address %q: %w", hostPort, err)
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid member address %q: empty host", hostPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid member address %q: bad port", hostPort)
	}
	return host, port, nil
}

// MembersFromHosts builds a member list with sequential ids
func MembersFromHosts(hosts []string) []Member {
	members := make([]Member, len(hosts))
	for i, h := range hosts {
		members[i] = Member{ID: i, Host: h}
	}
	return members
}

// Redacted returns a copy safe for printing. Passwords are cleared rather
// than masked so the rendered YAML can be loaded again.
func (c *Config) Redacted() *Config {
	out := *c
	out.ReplicaSet.Members = append([]Member(nil), c.ReplicaSet.Members...)
	out.AdminUser.Roles = append([]Role(nil), c.AdminUser.Roles...)
	out.AdminUser.Password = ""
	out.Connection.Password = ""
	return &out
}

// Marshal renders the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
