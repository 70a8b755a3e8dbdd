// Package bootstrap wires a parsed config.Config into live components
// (database connection, staging backend, authenticators, logger),
// shared by every cmd/ entrypoint so each daemon's main.go stays a
// thin cobra command rather than repeating this plumbing four times.
package bootstrap

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/ecmwf/reqbroker/auth"
	"github.com/ecmwf/reqbroker/config"
	"github.com/ecmwf/reqbroker/httpstaging"
	rsql "github.com/ecmwf/reqbroker/sql"
	"github.com/ecmwf/reqbroker/staging"
)

// NewLogger builds the process-wide *zap.SugaredLogger, matching the
// teacher's zap usage (also seen wired via zap.NewDevelopment in
// _examples/jkilzi-assisted-migration-agent).
func NewLogger(development bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building logger: %w", err)
	}
	return logger.Sugar(), nil
}

// OpenDB opens the sqlite database named by cfg.Database.DSN and returns
// it as a *bun.DB for sql.NewRequestStore/sql.NewQueue. It does not
// create the schema; call InitDB on the result for that.
func OpenDB(cfg *config.Config) (*bun.DB, error) {
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("bootstrap: database.dsn is required")
	}
	sqlDB, err := stdsql.Open("sqlite", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // sqlite allows only a single writer
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	return db, nil
}

// InitDB runs schema migrations against db.
func InitDB(ctx context.Context, db *bun.DB) error {
	return rsql.InitDB(ctx, db)
}

// BuildStaging constructs the configured staging.Staging backend,
// matching common/staging/staging.py's create_staging factory.
//
// In StagingModeLocal, a single process runs both sides of the
// httpstaging wire protocol: an httpstaging.Server mounted on an
// in-process HTTP listener bound to 127.0.0.1 on an ephemeral port,
// and an httpstaging.Client pointed at it, so every component still
// goes through the same staging.Staging interface (and the same wire
// format a separately-deployed staging service would expose) rather
// than a second, divergent local-filesystem code path.
func BuildStaging(cfg *config.Config, log *zap.SugaredLogger) (staging.Staging, error) {
	switch cfg.Staging.Mode {
	case config.StagingModeLocal, "":
		dir := cfg.Staging.LocalDir
		if dir == "" {
			dir = "/tmp/reqbroker/staging"
		}
		srv, err := httpstaging.NewServer(dir, log)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: building local staging server: %w", err)
		}
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("bootstrap: binding local staging listener: %w", err)
		}
		router := chi.NewRouter()
		srv.Routes(router)
		go func() {
			if err := http.Serve(listener, router); err != nil {
				log.Warnw("local staging listener stopped", "error", err)
			}
		}()
		internalURL := "http://" + listener.Addr().String()
		return httpstaging.NewClient(internalURL, cfg.Staging.PublicURL, nil), nil
	case config.StagingModeHTTP:
		return httpstaging.NewClient(cfg.Staging.InternalURL, cfg.Staging.PublicURL, nil), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown staging mode %q", cfg.Staging.Mode)
	}
}

// BuildAuthenticators constructs every configured auth.Authenticator,
// matching authentication.py's create_authenticators. JWKS fetching for
// JWTAuthenticator is intentionally minimal here (a static keyfunc
// returning an error): wiring a real JWKS client/cache is left as
// deployment-specific infrastructure, not something config.Config's
// static JWKSURL string alone can provide.
func BuildAuthenticators(cfg *config.Config) ([]auth.Authenticator, error) {
	var out []auth.Authenticator
	for _, mode := range cfg.Auth.Modes {
		switch mode {
		case config.AuthModeJWT:
			keyfunc := func(t *jwt.Token) (any, error) {
				return nil, fmt.Errorf("bootstrap: no JWKS key source configured for %q", cfg.Auth.JWT.JWKSURL)
			}
			out = append(out, auth.NewJWTAuthenticator(cfg.Auth.JWT.Realm, cfg.Auth.JWT.ClientID, keyfunc, nil))
		case config.AuthModePlain:
			users := make([]auth.PlainCredential, 0, len(cfg.Auth.Plain.Users))
			for _, u := range cfg.Auth.Plain.Users {
				users = append(users, auth.PlainCredential{Username: u.Username, Password: u.Password, Roles: u.Roles})
			}
			out = append(out, auth.NewPlainAuthenticator(cfg.Auth.Plain.Realm, users))
		default:
			return nil, fmt.Errorf("bootstrap: unknown auth mode %q", mode)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bootstrap: no authentication backends configured")
	}
	return out, nil
}
