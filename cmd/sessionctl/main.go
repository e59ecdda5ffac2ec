package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/internal/config"
	"github.com/abrahamahn/abe-stack-sub006/internal/credentials"
	"github.com/abrahamahn/abe-stack-sub006/internal/stores/postgres"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

const usage = `usage: sessionctl [-config file] [-env-file file] <command> [args]

commands:
  migrate                       create or update tables
  prune                         delete expired tokens and old login attempts
  revoke-family <family-id>     revoke one session family
  revoke-user <user-id>         revoke every family of a user
  sessions <user-id>            list active families of a user
  events <user-id> [-limit n]   show recent security events of a user
  create-user <email>           register a user; password read from stdin
  report                        print the security posture of the config
`

func main() {
	var (
		configFile = flag.String("config", "", "path to config.yaml")
		envFile    = flag.String("env-file", ".env", "dotenv file")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall command timeout")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(config.Options{ConfigFile: *configFile, DotEnvFiles: []string{*envFile}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := dispatch(ctx, settings, flag.Arg(0), flag.Args()[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, settings *config.Settings, cmd string, args []string, in io.Reader, out io.Writer) error {
	if cmd == "report" {
		printReport(tokenauth.SecurityReportFor(settings.Session), out)
		return nil
	}

	db := settings.Session.Database
	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:            db.DSN,
		MaxConns:       2,
		ConnectTimeout: db.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	switch cmd {
	case "migrate":
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(out, "schema up to date")
		return nil
	case "create-user":
		return createUser(ctx, pool, args, in, out)
	}

	engine, err := newEngine(settings, pool)
	if err != nil {
		return err
	}
	defer engine.Close()

	switch cmd {
	case "prune":
		res, err := engine.PruneRetention(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d tokens, %d login attempts\n", res.TokensDeleted, res.AttemptsDeleted)
	case "revoke-family":
		if len(args) != 1 {
			return errors.New("expected <family-id>")
		}
		outcome, err := engine.RevokeFamily(ctx, args[0], session.ReasonAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, outcome)
	case "revoke-user":
		if len(args) != 1 {
			return errors.New("expected <user-id>")
		}
		n, err := engine.RevokeAllFamilies(ctx, args[0], session.ReasonAdmin)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "revoked %d tokens\n", n)
	case "sessions":
		if len(args) != 1 {
			return errors.New("expected <user-id>")
		}
		families, err := engine.ActiveFamilies(ctx, args[0])
		if err != nil {
			return err
		}
		for _, f := range families {
			fmt.Fprintf(out, "%s\tcreated=%s\texpires=%s\tip=%s\tua=%q\n",
				f.FamilyID, f.CreatedAt.Format(time.RFC3339), f.LatestExpiresAt.Format(time.RFC3339), f.IPAddress, f.UserAgent)
		}
	case "events":
		return printEvents(ctx, engine, args, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func newEngine(settings *config.Settings, pool *pgxpool.Pool) (*tokenauth.Engine, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	cfg := settings.Session
	// the CLI never rotates, so it needs no throttle
	cfg.Refresh.EnableThrottle = false

	return tokenauth.New().
		WithConfig(cfg).
		WithTokenStore(postgres.NewTokenStore(pool)).
		WithLoginAttemptLedger(postgres.NewLoginAttemptLedger(pool)).
		WithSecurityEventSink(postgres.NewSecurityEventStore(pool)).
		WithLogger(logger).
		Build()
}

func printReport(r tokenauth.SecurityReport, out io.Writer) {
	fmt.Fprintf(out, "production mode:     %t\n", r.ProductionMode)
	fmt.Fprintf(out, "signing algorithm:   %s\n", r.SigningAlgorithm)
	fmt.Fprintf(out, "strict validation:   %t\n", r.StrictValidation)
	fmt.Fprintf(out, "access ttl:          %s\n", r.AccessTTL)
	fmt.Fprintf(out, "refresh ttl:         %s\n", r.RefreshTTL)
	fmt.Fprintf(out, "absolute lifetime:   %s\n", r.AbsoluteLifetime)
	fmt.Fprintf(out, "reuse attribution:   %t\n", r.ReuseAttribution)
	fmt.Fprintf(out, "lockout:             %t (%d in %s, ip check %t)\n", r.LockoutActive, r.LockoutThreshold, r.LockoutWindow, r.IPLockoutActive)
	fmt.Fprintf(out, "refresh throttle:    %t\n", r.RefreshThrottleActive)
	fmt.Fprintf(out, "family cap:          %t\n", r.FamilyCapActive)
	fmt.Fprintf(out, "revoke all on reuse: %t\n", r.RevokeAllOnReuse)
	for _, f := range r.Findings {
		fmt.Fprintf(out, "finding: %s\n", f)
	}
}

func printEvents(ctx context.Context, engine *tokenauth.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected <user-id>")
	}

	events, err := engine.SecurityEvents(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(out, "%s\t%s\tfamily=%s\tip=%s\t%v\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Type, ev.FamilyID, ev.IPAddress, ev.Metadata)
	}
	return nil
}

func createUser(ctx context.Context, pool *pgxpool.Pool, args []string, in io.Reader, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("expected <email>")
	}
	password, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return errors.New("empty password on stdin")
	}

	hash, err := credentials.HashPassword(password, 0)
	if err != nil {
		return err
	}
	id, err := postgres.NewUserStore(pool).CreateUser(ctx, args[0], hash)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}
