package store

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/elonfeng/cryptosent/internal/logger"
)

// Config is the explicit storage configuration handed to the selector.
type Config struct {
	ForceLocal  bool
	SQLitePath  string
	JournalPath string
	Postgres    PostgresConfig
	REST        RESTConfig
}

// defaultPostgresName is the user and database name libpq deployments start with.
const defaultPostgresName = "postgres"

// PostgresConfig describes the relational tier. The explicit fields are used
// when Host and Password are set; User and DBName default to "postgres". URL
// is a connection string tried when the explicit fields are absent or fail.
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	URL      string
	Table    string
}

func (c PostgresConfig) hasExplicit() bool {
	return c.Host != "" && c.Password != ""
}

func (c PostgresConfig) configured() bool {
	return c.Enabled && (c.hasExplicit() || c.URL != "")
}

// RESTConfig describes a PostgREST-compatible facade such as Supabase.
type RESTConfig struct {
	URL     string
	APIKey  string
	Table   string
	Timeout time.Duration
}

func (c RESTConfig) configured() bool {
	return c.URL != "" && c.APIKey != ""
}

// Connector opens a SQL connection. It exists so tests can replace the
// network dial.
type Connector func(ctx context.Context, driver, dsn string) (*sqlx.DB, error)

func defaultConnector(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, driver, dsn)
}

// Selector picks the storage tier for each operation.
type Selector struct {
	cfg     Config
	log     logger.Logger
	connect Connector
	client  *http.Client
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithConnector replaces the relational connector.
func WithConnector(c Connector) SelectorOption {
	return func(s *Selector) { s.connect = c }
}

// WithHTTPClient sets the client used by the REST tier.
func WithHTTPClient(c *http.Client) SelectorOption {
	return func(s *Selector) { s.client = c }
}

// NewSelector creates a selector over cfg.
func NewSelector(cfg Config, log logger.Logger, opts ...SelectorOption) *Selector {
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/posts.db"
	}
	s := &Selector{cfg: cfg, log: log, connect: defaultConnector}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		timeout := cfg.REST.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		s.client = &http.Client{Timeout: timeout}
	}
	return s
}

// Preferred reports the tier configuration points at, without connecting.
func (s *Selector) Preferred() Kind {
	switch {
	case s.cfg.ForceLocal:
		return KindEmbedded
	case s.cfg.Postgres.configured():
		return KindRelational
	case s.cfg.REST.configured():
		return KindREST
	default:
		return KindEmbedded
	}
}

// Resolve returns a backend handle for one operation. Tiers are tried in
// order: forced local, relational, REST facade, embedded. The caller must
// Close the returned backend.
func (s *Selector) Resolve(ctx context.Context) (Backend, error) {
	var attempts []TierAttempt

	if !s.cfg.ForceLocal {
		if s.cfg.Postgres.configured() {
			b, tried := s.resolveRelational(ctx)
			if b != nil {
				return b, nil
			}
			attempts = append(attempts, tried...)
		} else if s.cfg.Postgres.Enabled {
			s.log.Warn("relational backend enabled but incomplete: set host and password or a url",
				logger.Bool("host", s.cfg.Postgres.Host != ""),
				logger.Bool("password", s.cfg.Postgres.Password != ""))
		}
		if s.cfg.REST.configured() {
			return NewREST(s.cfg.REST, s.client), nil
		}
	}

	b, err := OpenEmbedded(ctx, s.cfg.SQLitePath)
	if err != nil {
		attempts = append(attempts, TierAttempt{Tier: "embedded " + s.cfg.SQLitePath, Err: err})
		return nil, &ResolveError{Attempts: attempts}
	}
	if len(attempts) > 0 {
		s.log.Warn("relational backend unavailable, using embedded",
			logger.Int("attempts", len(attempts)),
			logger.String("path", s.cfg.SQLitePath))
	}
	return b, nil
}

func (s *Selector) resolveRelational(ctx context.Context) (Backend, []TierAttempt) {
	var attempts []TierAttempt
	for _, c := range postgresCandidates(s.cfg.Postgres) {
		db, err := s.connect(ctx, "postgres", c.dsn)
		if err == nil {
			var b *SQLBackend
			b, err = NewRelational(ctx, db, s.cfg.Postgres.Table)
			if err == nil {
				s.log.Debug("relational backend connected", logger.String("via", c.label))
				return b, nil
			}
			db.Close()
		}
		s.log.Debug("relational connect failed", logger.String("via", c.label), logger.Error(err))
		attempts = append(attempts, TierAttempt{Tier: "relational " + c.label, Err: err})
	}
	return nil, attempts
}

type dsnCandidate struct {
	label string
	dsn   string
}

// postgresCandidates lists connection strings in the order they are tried:
// explicit fields, then the URL raw, with re-escaped credentials, and
// finally parsed into key/value form.
func postgresCandidates(cfg PostgresConfig) []dsnCandidate {
	var out []dsnCandidate
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}

	if cfg.hasExplicit() {
		port := cfg.Port
		if port == "" {
			port = "5432"
		}
		user := cfg.User
		if user == "" {
			user = defaultPostgresName
		}
		dbname := cfg.DBName
		if dbname == "" {
			dbname = defaultPostgresName
		}
		out = append(out, dsnCandidate{"explicit", keyValueDSN(map[string]string{
			"host": cfg.Host, "port": port, "user": user,
			"password": cfg.Password, "dbname": dbname, "sslmode": sslmode,
		})})
	}

	raw := cleanDatabaseURL(cfg.URL)
	if raw == "" {
		return out
	}
	out = append(out, dsnCandidate{"url", raw})

	if escaped, ok := reescapeCredentials(raw); ok && escaped != raw {
		out = append(out, dsnCandidate{"url-escaped", escaped})
	}
	if kv, ok := urlToKeyValue(raw, sslmode); ok {
		out = append(out, dsnCandidate{"url-parsed", kv})
	}
	return out
}

// cleanDatabaseURL undoes common copy-paste damage: surrounding quotes,
// doubled dollar escapes from shell/compose files, and the short scheme.
func cleanDatabaseURL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.ReplaceAll(s, "$$$$", "$$")
	if strings.HasPrefix(s, "postgres://") {
		s = "postgresql://" + strings.TrimPrefix(s, "postgres://")
	}
	return s
}

// reescapeCredentials percent-encodes the user and password of a URL whose
// credentials contain reserved characters. The last '@' separates them from
// the host, since passwords may contain '@'.
func reescapeCredentials(raw string) (string, bool) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "", false
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return "", false
	}
	creds, host := rest[:at], rest[at+1:]
	user, pass, hasPass := strings.Cut(creds, ":")
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}
	info := url.QueryEscape(user)
	if hasPass {
		info += ":" + url.QueryEscape(pass)
	}
	return scheme + "://" + info + "@" + host, true
}

func urlToKeyValue(raw, sslmode string) (string, bool) {
	escaped, ok := reescapeCredentials(raw)
	if !ok {
		escaped = raw
	}
	u, err := url.Parse(escaped)
	if err != nil || u.Host == "" {
		return "", false
	}
	kv := map[string]string{
		"host":    u.Hostname(),
		"port":    u.Port(),
		"dbname":  strings.TrimPrefix(u.Path, "/"),
		"sslmode": sslmode,
	}
	if kv["port"] == "" {
		kv["port"] = "5432"
	}
	if v := u.Query().Get("sslmode"); v != "" {
		kv["sslmode"] = v
	}
	if u.User != nil {
		kv["user"] = u.User.Username()
		kv["password"], _ = u.User.Password()
	}
	return keyValueDSN(kv), true
}

// keyValueDSN renders a libpq key/value connection string with values quoted.
func keyValueDSN(kv map[string]string) string {
	keys := []string{"host", "port", "user", "password", "dbname", "sslmode"}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := kv[k]
		if !ok || v == "" {
			continue
		}
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		parts = append(parts, fmt.Sprintf("%s='%s'", k, v))
	}
	return strings.Join(parts, " ")
}
