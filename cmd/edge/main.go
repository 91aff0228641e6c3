package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver
	"google.golang.org/grpc"

	"github.com/trustplane/edge/internal/api"
	"github.com/trustplane/edge/internal/bootstrap"
	"github.com/trustplane/edge/internal/challenge"
	"github.com/trustplane/edge/internal/config"
	"github.com/trustplane/edge/internal/driver"
	"github.com/trustplane/edge/internal/engine"
	"github.com/trustplane/edge/internal/gateway"
	"github.com/trustplane/edge/internal/intake"
	"github.com/trustplane/edge/internal/metrics"
	"github.com/trustplane/edge/internal/store"
	"github.com/trustplane/edge/pb"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	log.Info("starting node", "role", string(cfg.Role), "device", cfg.DeviceID)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	idx := store.NewPostgres(db)

	identityConn, err := gateway.Dial(cfg.IdentitySocket)
	if err != nil {
		log.Error("identity service unreachable", "error", err)
		os.Exit(1)
	}
	defer identityConn.Close()
	streamsConn, err := gateway.Dial(cfg.StreamsSocket)
	if err != nil {
		log.Error("streams service unreachable", "error", err)
		os.Exit(1)
	}
	defer streamsConn.Close()
	brokerConn, err := gateway.Dial(cfg.BrokerSocket)
	if err != nil {
		log.Error("broker service unreachable", "error", err)
		os.Exit(1)
	}
	defer brokerConn.Close()

	identityGW := gateway.NewIdentityClient(pb.NewIdentityServiceClient(identityConn), cfg.RPCTimeout(), log.With("gateway", "identity"))
	streamsGW := gateway.NewStreamsClient(pb.NewStreamsServiceClient(streamsConn), cfg.RPCTimeout(), log.With("gateway", "streams"))
	brokerGW := gateway.NewBrokerClient(pb.NewBrokerServiceClient(brokerConn), cfg.ThingKey, cfg.ThingPwd, cfg.RPCTimeout(), log.With("gateway", "broker"))

	var challenges challenge.Store
	if cfg.RedisAddr != "" {
		redisStore := challenge.NewRedisStore(cfg.RedisAddr, 0)
		defer redisStore.Close()
		challenges = redisStore
	} else {
		challenges = challenge.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := bootstrap.New(cfg, idx, identityGW, streamsGW, brokerGW, log.With("component", "bootstrap"))
	state, err := boot.Retry(ctx, 0)
	if err != nil {
		log.Error("bootstrap abandoned", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	eng := engine.New(cfg, idx, identityGW, streamsGW, brokerGW, challenges, met, log.With("component", "engine"), state.Thing, state.Self)
	in := intake.New(idx, log.With("component", "intake"))

	// Sensor adapter service for driver processes.
	lis, err := net.Listen("tcp", cfg.AdapterAddr)
	if err != nil {
		log.Error("adapter listen failed", "addr", cfg.AdapterAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	pb.RegisterSensorAdapterServer(grpcServer, in)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("adapter server stopped", "error", err)
		}
	}()
	defer grpcServer.GracefulStop()

	ops := api.NewServer(idx, met.Registry, log.With("component", "ops"))
	go func() {
		if err := ops.Start(cfg.OpsAddr); err != nil {
			log.Error("ops server stopped", "error", err)
		}
	}()

	d := driver.New(eng, in, state.Channels, cfg.CycleInterval(), log.With("component", "driver"))
	if err := d.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("driver stopped", "error", err)
		os.Exit(1)
	}
	log.Info("node shut down")
}
