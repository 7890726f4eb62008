package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"custody.backend/internal/app"
	"custody.backend/internal/config"
	"custody.backend/internal/domain/entities"
	"custody.backend/internal/infrastructure/datasources/postgres"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/crypto"
	"custody.backend/pkg/jwt"
	"custody.backend/pkg/logger"
)

const usage = `usage: admin-ops <command> [flags]

commands:
  issue-token     --user-id N [--role user|admin]   print an access token
  reconcile                                         run one solvency check
  process-orders                                    run one deposit settlement pass
  set-flag        --key K --locked true|false       force a feature lock`

type opsRuntime interface {
	Reconcile(ctx context.Context) (*entities.ReconciliationRecord, error)
	ProcessPass(ctx context.Context) (usecases.PassStats, error)
	SetLocked(ctx context.Context, key string, locked bool) error
}

type opsDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	prepare func(cfg *config.Config) (opsRuntime, io.Closer, error)
	out     io.Writer
}

type containerRuntime struct {
	*app.Container
}

func (r containerRuntime) Reconcile(ctx context.Context) (*entities.ReconciliationRecord, error) {
	return r.Reconciler.Run(ctx)
}

func (r containerRuntime) ProcessPass(ctx context.Context) (usecases.PassStats, error) {
	return r.Deposits.ProcessPass(ctx)
}

func (r containerRuntime) SetLocked(ctx context.Context, key string, locked bool) error {
	return r.Flags.SetLocked(ctx, key, locked)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func defaultOpsDeps() opsDeps {
	return opsDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		prepare: func(cfg *config.Config) (opsRuntime, io.Closer, error) {
			db, err := postgres.NewConnection(cfg.Database)
			if err != nil {
				return nil, nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, nil, fmt.Errorf("failed to init sql db: %w", err)
			}
			vault, err := crypto.NewKeyVault(cfg.Security.KeyEncryptionKey)
			if err != nil {
				_ = sqlDB.Close()
				return nil, nil, err
			}
			factory, chain, err := app.DialChain(cfg)
			if err != nil {
				_ = sqlDB.Close()
				return nil, nil, err
			}
			closer := closerFunc(func() error {
				factory.Close()
				return sqlDB.Close()
			})
			return containerRuntime{app.New(cfg, db, chain, vault)}, closer, nil
		},
		out: os.Stdout,
	}
}

func runAdminOps(args []string, deps opsDeps) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	if deps.out == nil {
		deps.out = os.Stdout
	}
	cmd, rest := args[0], args[1:]

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := deps.loadCfg()
	logger.Init(cfg.Server.Env)

	if cmd == "issue-token" {
		return issueToken(rest, cfg, deps.out)
	}

	var run func(ctx context.Context, rt opsRuntime) error
	switch cmd {
	case "reconcile":
		run = func(ctx context.Context, rt opsRuntime) error {
			rec, err := rt.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			_, _ = fmt.Fprintf(deps.out, "status=%s onchain=%s owed=%s difference=%s locked=%t\n",
				rec.Status, rec.OnchainBalance, rec.UserBalanceSum, rec.Difference, rec.Locked)
			return nil
		}
	case "process-orders":
		run = func(ctx context.Context, rt opsRuntime) error {
			stats, err := rt.ProcessPass(ctx)
			if err != nil {
				return fmt.Errorf("process orders: %w", err)
			}
			_, _ = fmt.Fprintf(deps.out, "expired=%d advanced=%d credited=%d failed=%d\n",
				stats.Expired, stats.Advanced, stats.Credited, stats.Failed)
			return nil
		}
	case "set-flag":
		fs := flag.NewFlagSet("set-flag", flag.ContinueOnError)
		key := fs.String("key", "", "flag key (required)")
		locked := fs.Bool("locked", true, "lock state")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if !isLockFlag(*key) {
			return fmt.Errorf("unknown flag %q", *key)
		}
		run = func(ctx context.Context, rt opsRuntime) error {
			if err := rt.SetLocked(ctx, *key, *locked); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(deps.out, "%s=%t\n", *key, *locked)
			return nil
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	rt, closer, err := deps.prepare(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return run(context.Background(), rt)
}

func issueToken(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	userIDFlag := fs.String("user-id", "", "numeric user id (required)")
	role := fs.String("role", jwt.RoleUser, "token role: user or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := strconv.ParseInt(*userIDFlag, 10, 64)
	if err != nil || userID <= 0 {
		return errors.New("--user-id must be a positive integer")
	}
	if *role != jwt.RoleUser && *role != jwt.RoleAdmin {
		return fmt.Errorf("unsupported role %q", *role)
	}

	token, err := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry).GenerateAccessToken(userID, *role)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, token)
	return nil
}

func isLockFlag(key string) bool {
	for _, k := range usecases.LockFlags {
		if k == key {
			return true
		}
	}
	return false
}

func main() {
	if err := runAdminOps(os.Args[1:], defaultOpsDeps()); err != nil {
		log.Fatal(err)
	}
}
