package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"gameconnect/config"
	"gameconnect/internal/chat"
	"gameconnect/internal/chat/codec"
	"gameconnect/internal/database"
	"gameconnect/internal/notify"
	"gameconnect/internal/realtime"
	"gameconnect/internal/user"
	"gameconnect/pkg/jwt"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logger.WithField("service", "gameconnect")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}

	store := chat.NewGormStore(db)
	if err := db.Migrate(append(store.Models(), &user.User{})...); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	directory := user.NewGormDirectory(db)

	messageCodec, err := codec.NewAEADCodec(codec.NewStaticKeyring(cfg.MessageSecret), log.WithField("component", "codec"))
	if err != nil {
		log.WithError(err).Fatal("failed to initialize message codec")
	}

	svc := chat.NewService(store, messageCodec, directory, log.WithField("component", "chat"))

	hub := realtime.NewHub(log.WithField("component", "hub"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var enqueuer *notify.Enqueuer
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}

		bridge := realtime.NewRedisBridge(redisClient, hub, log.WithField("component", "bridge"))
		hub.SetRelay(bridge)
		go bridge.Run(ctx)

		redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		enqueuer = notify.NewEnqueuer(asynq.NewClient(redisOpt))

		worker := notify.NewWorker(&notify.LogPushClient{Log: log.WithField("component", "push")}, log.WithField("component", "worker"))
		asynqMux := asynq.NewServeMux()
		worker.Register(asynqMux)
		asynqSrv := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{"notify": 1, "default": 1},
		})
		go func() {
			if err := asynqSrv.Run(asynqMux); err != nil {
				log.WithError(err).Error("task worker stopped")
			}
		}()
	} else {
		log.Info("redis not configured, running single node without push delivery")
	}

	dispatcher := notify.NewDispatcher(hub, enqueuer, log.WithField("component", "notify"))

	validator := jwt.NewValidator(cfg.JWTSecret)
	gateway := realtime.NewGateway(validator, directory, svc, hub, dispatcher, log.WithField("component", "gateway"))
	handler := chat.NewHandler(svc, validator, log.WithField("component", "http"))

	router := mux.NewRouter()
	handler.Register(router)
	router.Handle("/ws", gateway)
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	hub.Close()
}
