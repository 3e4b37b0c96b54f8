package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"turnstile/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Schema and table identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema created by the bundled migrations.
const DefaultSchema = "turnstile"

// WithSchema sets the Postgres schema used by the store (default "turnstile").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) users() string { return pgx.Identifier{s.schema, "users"}.Sanitize() }

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM `+s.users()+` WHERE email = $1`,
		NormalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, pgNotFound(op, "email", err)
	}
	return u, nil
}

func (s *PostgresStore) FindUserAuthByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserAuthByEmail"

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at, password_hash, hashed_refresh_token
		   FROM `+s.users()+`
		  WHERE email = $1`,
		NormalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.CreatedAt, &u.PasswordHash, &u.HashedRefreshToken)
	if err != nil {
		return User{}, pgNotFound(op, "email", err)
	}
	return u, nil
}

func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"

	if !ids.ValidUserID(id) {
		return User{}, notFound(op, "id")
	}

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM `+s.users()+` WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, pgNotFound(op, "id", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, invalid(op, "email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewUserID(now)
	if err != nil {
		return User{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.users()+` (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id, email, in.PasswordHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, conflict(op, field)
		}
		return User{}, err
	}

	return User{ID: id, Email: email, CreatedAt: now}, nil
}

// PersistHashedRefreshToken is a single UPDATE; concurrent writers race on the
// row and the last commit wins without any read-modify-write window.
func (s *PostgresStore) PersistHashedRefreshToken(ctx context.Context, userID string, hash *string) error {
	const op = "identity.PersistHashedRefreshToken"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+` SET hashed_refresh_token = $2 WHERE id = $1`,
		userID, hash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(op, "id")
	}
	return nil
}

func (s *PostgresStore) LoadHashedRefreshToken(ctx context.Context, userID string) (*string, error) {
	const op = "identity.LoadHashedRefreshToken"

	var hash *string
	err := s.pool.QueryRow(ctx,
		`SELECT hashed_refresh_token FROM `+s.users()+` WHERE id = $1`,
		userID,
	).Scan(&hash)
	if err != nil {
		return nil, pgNotFound(op, "id", err)
	}
	return hash, nil
}

func pgNotFound(op, by string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(op, by)
	}
	return err
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
