package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pscheid92/fanout/internal/adapter/postgres"
	"github.com/pscheid92/fanout/internal/adapter/redis"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/logging"
)

const usage = `Usage: tenant-admin [flags] <command> [args]

Commands:
  create <admin> <appname> <password>   create or replace a tenant login
  delete <admin> <appname>              remove a tenant login
  list                                  list tenant logins
  purge <admin>                         remove every connection record of a tenant
                                        from both the local and gateway directories

Flags:
`

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "Postgres URL (or set DATABASE_URL env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL for purge (or set REDIS_URL env)")
		dryRun      = flag.Bool("dry-run", false, "Report what purge would remove without deleting")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := "info"
	if *verbose {
		logLevel = "debug"
	}
	logging.InitLogger(logLevel, "text")

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var err error
	switch args[0] {
	case "purge":
		err = runPurge(ctx, *redisURL, args[1:], *dryRun)
	case "create", "delete", "list":
		err = runCredentials(ctx, *databaseURL, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		cancel()
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func runCredentials(ctx context.Context, databaseURL string, args []string) error {
	if databaseURL == "" {
		return errors.New("database URL required (--database or DATABASE_URL env)")
	}

	pool, err := postgres.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("Connected to Postgres", "url", sanitizeURL(databaseURL))

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		return err
	}

	return execCredentials(ctx, postgres.NewTenantRepo(pool), args, os.Stdout)
}

func execCredentials(ctx context.Context, admin domain.TenantAdmin, args []string, out io.Writer) error {
	switch args[0] {
	case "create":
		if len(args) != 4 {
			return errors.New("create needs <admin> <appname> <password>")
		}
		cred := domain.TenantCredential{TenantKey: args[1], AppName: args[2], Password: args[3]}
		if err := admin.UpsertCredential(ctx, cred); err != nil {
			return err
		}
		slog.Info("Tenant login saved", "admin", cred.TenantKey, "appname", cred.AppName)

	case "delete":
		if len(args) != 3 {
			return errors.New("delete needs <admin> <appname>")
		}
		if err := admin.DeleteCredential(ctx, args[1], args[2]); err != nil {
			return err
		}
		slog.Info("Tenant login deleted", "admin", args[1], "appname", args[2])

	case "list":
		creds, err := admin.ListCredentials(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADMIN\tAPPNAME\tCREATED")
		for _, c := range creds {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.TenantKey, c.AppName, c.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}
	return nil
}

func runPurge(ctx context.Context, redisURL string, args []string, dryRun bool) error {
	if redisURL == "" {
		return errors.New("redis URL required (--redis or REDIS_URL env)")
	}
	if len(args) != 1 || args[0] == "" {
		return errors.New("purge needs <admin>")
	}

	rdb, err := redis.NewClient(ctx, redisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	slog.Info("Connected to Redis", "url", sanitizeURL(redisURL))

	start := time.Now()
	removed, err := purgeEndpoints(ctx, func(endpoint string) domain.ConnectionStore {
		return redis.NewConnectionStore(rdb, endpoint)
	}, args[0], dryRun)
	if err != nil {
		return err
	}
	slog.Info("Purge summary",
		"admin", args[0],
		"removed", removed,
		"dry_run", dryRun,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// purgeEndpoints purges tenant from the directory of every broadcast endpoint.
func purgeEndpoints(ctx context.Context, storeFor func(endpoint string) domain.ConnectionStore, tenant string, dryRun bool) (int, error) {
	total := 0
	for _, endpoint := range []string{domain.EndpointLocal, domain.EndpointGateway} {
		removed, err := purgeConnections(ctx, storeFor(endpoint), tenant, dryRun)
		total += removed
		if err != nil {
			return total, fmt.Errorf("%s: %w", endpoint, err)
		}
		slog.Debug("Purged endpoint", "endpoint", endpoint, "removed", removed)
	}
	return total, nil
}

// purgeConnections deletes every record registered under tenant and returns
// how many were (or, in dry-run mode, would be) removed.
func purgeConnections(ctx context.Context, store domain.ConnectionStore, tenant string, dryRun bool) (int, error) {
	records, err := store.ScanTenant(ctx, tenant)
	if err != nil {
		return 0, fmt.Errorf("scan tenant %q: %w", tenant, err)
	}

	removed := 0
	for _, r := range records {
		if dryRun {
			slog.Debug("Would remove connection", "connection_id", r.ConnectionID)
			removed++
			continue
		}
		if err := store.Delete(ctx, r.Key()); err != nil {
			return removed, fmt.Errorf("delete %s: %w", r.Key(), err)
		}
		slog.Debug("Removed connection", "connection_id", r.ConnectionID)
		removed++
	}
	return removed, nil
}

// sanitizeURL hides the password of a connection URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
