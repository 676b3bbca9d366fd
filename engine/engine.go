// Package engine is the composition root of the offload subsystem: it turns
// an osql.Options into a wired session Repository with the matching claims
// cache, summary sink, and admin surface.
package engine

import (
	"context"
	log "log/slog"
	"net"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blocksql/osql"
	_ "github.com/blocksql/osql/cache"
	"github.com/blocksql/osql/cassandra"
	"github.com/blocksql/osql/redis"
	"github.com/blocksql/osql/reqlog"
	"github.com/blocksql/osql/restapi"
	"github.com/blocksql/osql/session"
)

// Engine bundles one running instance's offload subsystem.
type Engine struct {
	// Repo is the instance's session repository; the SQL engine and receiver
	// threads operate on it directly.
	Repo *session.Repository

	admin   *http.Server
	adminLn net.Listener
}

// Open wires an Engine from options: the coordination cache (in-memory or
// redis), the summary sink (slog, or the Cassandra req_log archive when a
// keyspace is configured), and, when an admin address is set, the REST surface.
func Open(ctx context.Context, opts osql.Options) (*Engine, error) {
	if opts.CacheType == osql.Redis {
		ropts := redis.DefaultOptions()
		if cfg := opts.RedisConfig; cfg != nil {
			if cfg.URL != "" {
				parsed, err := goredis.ParseURL(cfg.URL)
				if err != nil {
					return nil, err
				}
				ropts.Address = parsed.Addr
				ropts.Password = parsed.Password
				ropts.DB = parsed.DB
			} else {
				ropts.Address = cfg.Address
				ropts.Password = cfg.Password
				ropts.DB = cfg.DB
			}
		}
		if _, err := redis.OpenConnection(ropts); err != nil {
			return nil, err
		}
	}
	osql.SetCacheFactory(opts.CacheType)
	claims := osql.NewCacheClient()

	var sink session.SummarySink = reqlog.New(nil)
	if opts.Keyspace != "" {
		if _, err := cassandra.OpenConnection(cassandra.Config{
			ClusterHosts: opts.CassandraHosts,
			Keyspace:     opts.Keyspace,
		}); err != nil {
			return nil, err
		}
		sink = cassandra.NewReqLog()
	}

	e := &Engine{
		Repo: session.NewRepository(session.RepositoryConfig{
			Node:     opts.Node,
			Claims:   claims,
			ClaimTTL: opts.ClaimTTL,
			Sink:     sink,
		}),
	}

	if opts.AdminAddress != "" {
		ln, err := net.Listen("tcp", opts.AdminAddress)
		if err != nil {
			return nil, err
		}
		e.adminLn = ln
		e.admin = &http.Server{Handler: restapi.NewServer(e.Repo)}
		go func() {
			if serr := e.admin.Serve(ln); serr != nil && serr != http.ErrServerClosed {
				log.Warn("admin server stopped", "addr", ln.Addr().String(), "err", serr)
			}
		}()
	}
	return e, nil
}

// AdminAddress returns the bound admin listen address; empty when disabled.
func (e *Engine) AdminAddress() string {
	if e.adminLn == nil {
		return ""
	}
	return e.adminLn.Addr().String()
}

// Close sweeps every live session, stops the admin server, and releases the
// backing connections.
func (e *Engine) Close(ctx context.Context) error {
	e.Repo.TerminateNode("")
	var err error
	if e.admin != nil {
		err = e.admin.Shutdown(ctx)
		e.admin = nil
		e.adminLn = nil
	}
	cassandra.CloseConnection()
	if rerr := redis.CloseConnection(); err == nil {
		err = rerr
	}
	return err
}
