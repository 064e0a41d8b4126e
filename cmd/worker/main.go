package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/LindemannRock/survey-campaigns/internal/campaign"
	"github.com/LindemannRock/survey-campaigns/internal/config"
	"github.com/LindemannRock/survey-campaigns/internal/dispatch"
	"github.com/LindemannRock/survey-campaigns/internal/gateway"
	"github.com/LindemannRock/survey-campaigns/internal/importer"
	"github.com/LindemannRock/survey-campaigns/internal/pkg/distlock"
	"github.com/LindemannRock/survey-campaigns/internal/render"
)

func main() {
	log.Println("Starting dispatch worker...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database url is required (DATABASE_URL or config)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	log.Println("Connected to redis")

	store := campaign.NewStore(db)
	queue := dispatch.NewQueue(db)

	smsClient := gateway.NewSMSClient(cfg.SMS.Endpoint, cfg.SMS.APIKey)
	emailClient := gateway.NewEmailClient(cfg.Email.APIKey, cfg.Email.BaseURL)
	shortener := gateway.NewShortener(cfg.Shortener.Token, cfg.Shortener.BaseURL)

	renderer := render.NewEngine(shortener, render.Config{
		SurveyBaseURL:   cfg.Survey.BaseURL,
		DefaultLanguage: cfg.Survey.DefaultLanguage,
		FromEmail:       cfg.Email.FromEmail,
		FromName:        cfg.Email.FromName,
		ReplyTo:         cfg.Email.ReplyTo,
	})

	locks := func(key string) distlock.DistLock {
		return distlock.NewLock(rdb, db, key, 5*time.Minute)
	}

	dispatcher := dispatch.NewDispatcher(store, queue, smsClient, emailClient, renderer, locks, cfg.SMS.Language, cfg.SMS.SenderID)

	sessions := importer.NewSessionStore(rdb)
	pipeline := importer.NewPipeline(sessions, store, queue, cfg.Phone.Rules(), cfg.Sites.LanguageMap, cfg.Sites.DefaultSite)

	pool := dispatch.NewPool(queue, cfg.Worker.NumWorkers)
	pool.Register(dispatch.TypeTrigger, dispatcher.HandleTrigger)
	pool.Register(dispatch.TypeProcess, dispatcher.HandleProcess)
	pool.Register(dispatch.TypeBatch, dispatcher.HandleBatch)
	pool.Register(importer.JobType, func(ctx context.Context, job *dispatch.Job) error {
		var j importer.Job
		if err := json.Unmarshal(job.Payload, &j); err != nil {
			return err
		}
		return pipeline.Run(ctx, j)
	})

	runCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(runCtx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	stopWorkers()
	pool.Stop()
	log.Println("Worker stopped")
}
