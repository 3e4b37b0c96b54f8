// Package clientcli implements turnstile-client, a terminal front end for
// authclient.Coordinator.
package clientcli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"turnstile/cmd/internal/authclient"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ErrUsage is returned for an unknown or missing subcommand.
var ErrUsage = errors.New("usage")

const usage = `usage: turnstile-client [-base-url URL] [-state FILE] <command> [args]

commands:
  register [email]   create an account
  login [email]      sign in and store the token pair
  profile            show the identity the server sees (refreshes if needed)
  status             show the local session state
  logout             revoke the refresh token and clear local state
  watch              follow session events until revoked or interrupted

environment:
  TURNSTILE_CLIENT_REDIS_URL  keep state in Redis so clients in other processes
                              act as tabs and follow each other's changes; a
                              -state file is read at startup but never synced live
`

// CLI runs one subcommand per Run call.
type CLI struct {
	cfg Config
	log *slog.Logger

	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

// New builds a CLI reading prompts from in and writing to out.
func New(cfg Config, log *slog.Logger, in io.Reader, out io.Writer) *CLI {
	if log == nil {
		log = slog.Default()
	}
	return &CLI{cfg: cfg, log: log, in: in, r: bufio.NewReader(in), out: out}
}

// Run parses args and executes the subcommand.
func (c *CLI) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("turnstile-client", flag.ContinueOnError)
	fs.SetOutput(c.out)
	fs.Usage = func() { _, _ = fmt.Fprint(c.out, usage) }
	baseURL := fs.String("base-url", c.cfg.BaseURL, "auth API base URL")
	statePath := fs.String("state", c.cfg.StatePath, "SQLite file holding the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return ErrUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]

	storage, closeStorage, err := c.openStorage(ctx, *statePath)
	if err != nil {
		return err
	}
	defer closeStorage()

	coord, err := authclient.New(*baseURL, storage,
		authclient.WithLogger(c.log),
		authclient.WithLoginRequired(func() {
			_, _ = fmt.Fprintln(c.out, "login required")
		}),
	)
	if err != nil {
		return err
	}
	if err := coord.Load(ctx); err != nil {
		return err
	}

	switch cmd {
	case "register":
		return c.register(ctx, coord, cmdArgs)
	case "login":
		return c.login(ctx, coord, cmdArgs)
	case "profile":
		return c.profile(ctx, coord)
	case "status":
		return c.status(coord)
	case "logout":
		return c.logout(ctx, coord)
	case "watch":
		return c.watch(ctx, coord)
	default:
		fs.Usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (c *CLI) openStorage(ctx context.Context, statePath string) (authclient.Storage, func(), error) {
	if strings.TrimSpace(c.cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(c.cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		rdb := redis.NewClient(opts)
		st, err := authclient.NewRedisStorage(rdb, c.cfg.Area)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return st, func() { _ = rdb.Close() }, nil
	}

	if err := os.MkdirAll(filepath.Dir(statePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("state dir: %w", err)
	}
	st, err := authclient.OpenSQLiteStorage(ctx, statePath)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

func (c *CLI) credentials(args []string) (string, string, error) {
	var email string
	if len(args) > 0 {
		email = strings.TrimSpace(args[0])
	} else {
		var err error
		if email, err = promptLine(c.r, c.out, "Email"); err != nil {
			return "", "", err
		}
	}
	pw, err := promptPassword(c.r, c.in, c.out)
	if err != nil {
		return "", "", err
	}
	return email, pw, nil
}

func (c *CLI) register(ctx context.Context, coord *authclient.Coordinator, args []string) error {
	email, pw, err := c.credentials(args)
	if err != nil {
		return err
	}
	u, err := coord.Register(ctx, email, pw)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "registered %s (%s)\n", u.Email, u.ID)
	return nil
}

func (c *CLI) login(ctx context.Context, coord *authclient.Coordinator, args []string) error {
	email, pw, err := c.credentials(args)
	if err != nil {
		return err
	}
	s, err := coord.Login(ctx, email, pw)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "logged in as %s\n", s.User.Email)
	return nil
}

func (c *CLI) profile(ctx context.Context, coord *authclient.Coordinator) error {
	if !coord.Session().Authenticated() {
		return authclient.ErrNotAuthenticated
	}
	u, err := coord.Profile(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "email: %s\nsubject: %s\n", u.Email, u.Subject)
	return nil
}

func (c *CLI) status(coord *authclient.Coordinator) error {
	s := coord.Session()
	switch {
	case s.Authenticated():
		_, _ = fmt.Fprintf(c.out, "authenticated as %s\n", s.User.Email)
	case s.SessionExpired:
		_, _ = fmt.Fprintln(c.out, "session expired")
	default:
		_, _ = fmt.Fprintln(c.out, "not logged in")
	}
	return nil
}

func (c *CLI) logout(ctx context.Context, coord *authclient.Coordinator) error {
	if err := coord.Logout(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "logged out")
	return nil
}

// watch follows both the server's session events and local storage changes
// made by other client processes sharing the same state.
func (c *CLI) watch(ctx context.Context, coord *authclient.Coordinator) error {
	if !coord.Session().Authenticated() {
		return authclient.ErrNotAuthenticated
	}
	_, _ = fmt.Fprintf(c.out, "watching session of %s\n", coord.Session().User.Email)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := coord.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return coord.WatchEvents(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil && !coord.Session().Authenticated() {
		_, _ = fmt.Fprintln(c.out, "session revoked")
	}
	return err
}
