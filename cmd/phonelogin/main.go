// phonelogin is a terminal front end for phone number login: it asks for an Indian mobile number,
// has the verification service send a one-time code, and verifies the code the user types.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"phone-login/client/internal/config"
	"phone-login/client/internal/credential"
	"phone-login/client/internal/db"
	"phone-login/client/internal/logging"
	"phone-login/client/internal/navigator"
	"phone-login/client/internal/telemetry"
	telemetryotel "phone-login/client/internal/telemetry/otel"
	"phone-login/client/internal/telemetry/producer"
	"phone-login/client/internal/verification"
	"phone-login/client/internal/verifyapi"
	"phone-login/client/internal/verifyapi/grpcclient"
)

const serviceName = "phonelogin"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal("otel setup failed", zap.Error(err))
	}
	providers.SetGlobal()

	emitters := telemetry.Multi{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		logger.Fatal("kafka producer setup failed", zap.Error(err))
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		logger.Info("kafka telemetry enabled", zap.String("topic", cfg.TelemetryKafkaTopic))
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("session store setup failed", zap.String("store", cfg.SessionStore), zap.Error(err))
	}
	svc, closeSvc, err := openCodeService(cfg)
	if err != nil {
		logger.Fatal("verification client setup failed", zap.String("transport", cfg.VerifyTransport), zap.Error(err))
	}

	if fs, ok := store.(*credential.FileStore); ok {
		if cur, err := fs.Current(ctx); err != nil {
			logger.Warn("existing session unreadable", zap.String("path", fs.Path()), zap.Error(err))
		} else if cur != nil {
			os.Stdout.WriteString("An existing session for " + cur.Phone.Display() + " will be replaced after you sign in.\n")
		}
	}

	flow := verification.New(svc, store, navigator.NewWriterNavigator(os.Stdout), verification.Options{
		Logger:          logger,
		Emitter:         emitters,
		CooldownSeconds: cfg.ResendCooldownSeconds,
		DashboardPath:   cfg.DashboardPath,
		CallTimeout:     cfg.Timeout(),
	})

	term := newTerminal(os.Stdout)
	unsubscribe := flow.Subscribe(term.render)
	term.render(flow.Snapshot())

	runErr := run(ctx, flow, term, os.Stdin)
	unsubscribe()
	flow.Close()
	if runErr != nil {
		logger.Error("phonelogin stopped", zap.Error(runErr))
	}

	if cfg.OTLPEndpoint != "" || kafkaProducer != nil {
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	if err := closeSvc(); err != nil {
		logger.Warn("verification client close", zap.Error(err))
	}
	if err := closeStore(); err != nil {
		logger.Warn("session store close", zap.Error(err))
	}
	if err := kafkaProducer.Close(); err != nil {
		logger.Warn("kafka producer close", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (credential.Store, func() error, error) {
	noClose := func() error { return nil }
	switch cfg.SessionStore {
	case config.StoreMemory:
		return credential.NewMemoryStore(), noClose, nil
	case config.StorePostgres:
		conn, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return credential.NewPostgresStore(conn), conn.Close, nil
	case config.StoreRedis:
		cli, err := credential.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return credential.NewRedisStore(cli, cfg.SessionTTL()), cli.Close, nil
	default:
		return credential.NewFileStore(cfg.SessionFile), noClose, nil
	}
}

func openCodeService(cfg *config.Config) (verification.CodeService, func() error, error) {
	if cfg.VerifyTransport == config.TransportGRPC {
		client, err := grpcclient.New(cfg.VerifyGRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
	return verifyapi.NewClient(cfg.VerifyAPIURL, cfg.Timeout()), func() error { return nil }, nil
}
