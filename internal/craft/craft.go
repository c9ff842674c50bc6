// Package craft is the query layer over the tenant content store. It
// exposes single-purpose, parameterised SQL primitives against the
// fixed Craft-style relational schema, with every table reference
// prefixed by the tenant identifier.
//
// Two identifiers are composed into SQL rather than bound: the tenant
// prefix and the matrix-content table name. The former is gated by the
// tenant regex before a Session can exist, the latter by the content
// table regex at every use.
package craft

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/tenant"
)

// AtdwEntryTypeHandle is the entry type used for imported products.
// Entries with any other type handle are treated as custom content.
const AtdwEntryTypeHandle = "atdwProduct"

// PoolConfig bounds the shared Postgres pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool bounds used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute}
}

// Store owns the Postgres pool shared by all tenants.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string, pool PoolConfig, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return NewStore(db, log), nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("craft")}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// Session checks out one connection scoped to a single tenant and a
// single request. The caller must Close it on every exit path.
func (s *Store) Session(ctx context.Context, tenantID string) (*Session, error) {
	if !tenant.Valid(tenantID) {
		return nil, errors.Newf(errors.BadTenant, "invalid tenant identifier %q", tenantID)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseFailure, "failed to acquire connection", err)
	}
	return &Session{conn: conn, tenant: tenantID, log: s.log}, nil
}

// Session is a tenant-scoped connection. All query primitives hang off
// it so no SQL can be composed without a validated tenant.
type Session struct {
	conn   *sql.Conn
	tenant string
	log    *zap.Logger
}

// Tenant returns the tenant this session is scoped to.
func (s *Session) Tenant() string { return s.tenant }

// Close releases the underlying connection back to the pool.
func (s *Session) Close() error { return s.conn.Close() }

// QueryContext passes through to the checked-out connection, letting
// the session satisfy schema.Querier.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// table prefixes a table name with the tenant schema.
func (s *Session) table(name string) string {
	return s.tenant + "." + name
}

// placeholders renders "$start, $start+1, ..." for n bind parameters.
func placeholders(n, start int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", start+i)
	}
	return b.String()
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// collectIDs drains a single-column id result set.
func collectIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sanitizeLike strips the characters that would let user input escape
// a LIKE pattern.
func sanitizeLike(s string) string {
	r := strings.NewReplacer(`"`, "", `%`, "", `\`, "")
	return strings.TrimSpace(r.Replace(s))
}
