package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	cartcache "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/cache"
	cartrepo "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/repository"
	cartservice "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/cart/service"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/catalog"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/checkout"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/gateway"
	orderrepo "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/repository"
	orderservice "github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/order/service"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/outbox"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/internal/stock"
	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/metrics"
)

type Config struct {
	HTTPPort        string
	MongoURI        string
	MongoDBName     string
	RedisAddr       string
	RedisPassword   string
	KafkaBrokers    []string
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "ecofinds"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Client().Disconnect(ctx)
	log.Printf("Connected to MongoDB at %s", cfg.MongoURI)

	if err := cartrepo.EnsureIndexes(ctx, mongoDB); err != nil {
		log.Fatalf("Failed to create cart indexes: %v", err)
	}
	if err := orderrepo.EnsureIndexes(ctx, mongoDB); err != nil {
		log.Fatalf("Failed to create order indexes: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Redis connection failed:", err)
	}
	log.Printf("Redis ping succeeded")

	engineMetrics := metrics.NewEngineMetrics()

	products := catalog.NewMongoReader(mongoDB)
	ledger := stock.NewMongoLedger(mongoDB)

	carts := cartservice.NewCartService(
		cartrepo.NewMongoRepository(mongoDB),
		cartcache.NewRedisCache(redisClient),
		products,
	)

	orders := orderrepo.NewMongoOrders(mongoDB)
	attempts := orderrepo.NewMongoAttempts(mongoDB)
	events := orderrepo.NewMongoOutbox(mongoDB)
	numbering := orderservice.NewNumbering(orderrepo.NewMongoCounters(mongoDB))

	orderSvc := orderservice.NewOrderService(orders, ledger, engineMetrics)
	coordinator := checkout.NewCoordinator(carts, products, ledger, orders, attempts, numbering, engineMetrics)

	poller := outbox.NewPoller(events, attempts, orders, orderSvc, ledger, cfg.KafkaBrokers...)
	pollerCtx, stopPoller := context.WithCancel(ctx)
	go poller.Run(pollerCtx)

	router := gateway.NewRouter(carts, coordinator, orderSvc, engineMetrics)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("API listening on port %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	stopPoller()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	log.Println("Stopped")
}
