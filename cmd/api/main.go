package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"ballotguard.org/internal/audit"
	"ballotguard.org/internal/auth"
	"ballotguard.org/internal/config"
	"ballotguard.org/internal/httpapi"
	"ballotguard.org/internal/mfa"
	"ballotguard.org/internal/obs"
	"ballotguard.org/internal/rpcauth"
	"ballotguard.org/internal/session"
	"ballotguard.org/internal/store/memory"
	"ballotguard.org/internal/store/pg"
	"ballotguard.org/internal/stream"
)

type stores struct {
	admins  auth.AdminStore
	voters  auth.VoterStore
	mfa     mfa.Store
	codes   mfa.BackupCodeStore
	sink    audit.Sink
	ready   httpapi.ReadyCheck
	closeFn func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ballotguard: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		var cfgErr *auth.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "ballotguard: %v\n", err)
			os.Exit(2)
		}
		log.Fatalf("ballotguard: %v", err)
	}
	log.Println("Stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(cfg.Version, cfg.Commit)

	roles, err := loadRoles(cfg.RoleTablePath)
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.closeFn()

	codec, err := auth.NewTokenCodec(roles, cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
		auth.WithTTLs(cfg.AccessTTL, cfg.RefreshTTL),
		auth.WithIssuer(cfg.TokenIssuer),
	)
	if err != nil {
		return err
	}
	resolver, err := auth.NewResolver(codec, roles, st.admins, st.voters, auth.WithLookupTimeout(cfg.LookupTimeout))
	if err != nil {
		return err
	}

	hub := stream.New[audit.VoterAuditEntry](64)
	router := audit.NewRouter(st.sink, audit.WithQueue(cfg.AuditQueueSize), audit.WithPublisher(hub))

	manager, err := mfa.NewManager(st.mfa, st.codes, auth.MFAFlags{Admins: st.admins, Voters: st.voters}, router,
		mfa.WithIssuer(cfg.MFAIssuer),
		mfa.WithBackupCodeCount(cfg.BackupCodeCount),
	)
	if err != nil {
		return err
	}
	sessions, err := session.NewService(codec, resolver, st.admins, st.voters, manager, router)
	if err != nil {
		return err
	}

	api, err := httpapi.New(httpapi.Config{
		Roles:          roles,
		Resolver:       resolver,
		Sessions:       sessions,
		MFA:            manager,
		Audit:          router,
		Suspicious:     hub,
		Ready:          st.ready,
		Version:        cfg.Version,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RateLimitRPS,
	})
	if err != nil {
		return err
	}

	interceptor, err := rpcauth.New(resolver, router)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.Unary()),
		grpc.ChainStreamInterceptor(interceptor.Stream()),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE handlers clear their own write deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	log.Printf("Starting ballotguard %s on %s (grpc %s)", cfg.Version, cfg.HTTPAddr, cfg.GRPCAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return router.Close(shutdownCtx)
	})
	return g.Wait()
}

func loadRoles(path string) (*auth.RoleTable, error) {
	if path == "" {
		return auth.DefaultRoleTable(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &auth.ConfigError{Field: "role_table_path", Err: err}
	}
	defer f.Close()
	roles, err := auth.LoadRoleTable(f)
	if err != nil {
		return nil, &auth.ConfigError{Field: "role_table_path", Err: err}
	}
	return roles, nil
}

func openStores(cfg config.Config) (stores, error) {
	if cfg.PGDSN == "" {
		log.Println("BALLOTGUARD_PG_DSN not set: using in-memory stores")
		admins := memory.NewAdmins()
		if cfg.BootstrapAdminEmail != "" {
			admins.Put(auth.AdminRecord{
				ID:           "bootstrap-admin",
				Email:        cfg.BootstrapAdminEmail,
				FullName:     "Bootstrap Administrator",
				AdminType:    auth.RoleSystemAdministrator,
				Active:       true,
				PasswordHash: cfg.BootstrapAdminHash,
				CreatedAt:    time.Now().UTC(),
			})
		}
		return stores{
			admins:  admins,
			voters:  memory.NewVoters(),
			mfa:     memory.NewMFA(),
			codes:   memory.NewBackupCodes(),
			sink:    audit.LogSink{},
			closeFn: func() error { return nil },
		}, nil
	}

	db, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return stores{}, fmt.Errorf("open db: %w", err)
	}
	return stores{
		admins:  db.Admins(),
		voters:  db.Voters(),
		mfa:     db.MFA(),
		codes:   db.BackupCodes(),
		sink:    audit.MultiSink{db.Audit(), audit.LogSink{}},
		ready:   httpapi.ReadyCheck{DB: db.DB()},
		closeFn: db.Close,
	}, nil
}
