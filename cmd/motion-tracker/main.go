package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/fleetsignal/motiontrack/business/bus"
	"github.com/fleetsignal/motiontrack/business/data/hotstate"
	motiondata "github.com/fleetsignal/motiontrack/business/data/motion"
	"github.com/fleetsignal/motiontrack/business/dispatch"
	"github.com/fleetsignal/motiontrack/business/motion/pipeline"
	"github.com/fleetsignal/motiontrack/business/motion/statemachine"
	"github.com/fleetsignal/motiontrack/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "MOTION_TRACKER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %+v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		NATS struct {
			URL string `conf:"default:localhost"`
		}
		Redis struct {
			Addr     string        `conf:"default:localhost:6379"`
			StateTTL time.Duration `conf:"default:168h"`
		}
		Motion struct {
			MinMovingSpeedKmh          float64 `conf:"default:5"`
			MinTripDistanceM           float64 `conf:"default:100"`
			MinTripDurationSec         int     `conf:"default:60"`
			MinStopDurationSec         int     `conf:"default:300"`
			MaxGapDurationSec          int     `conf:"default:600"`
			MaxOvernightGapDurationSec int     `conf:"default:1800"`
			OrphanTripTimeoutSec       int     `conf:"default:1800"`
			MaxIdleDurationSec         int     `conf:"default:1800"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Consumes GPS position samples, classifies vehicle motion state, tracks trips/stops " +
		"and maintains the per-device odometer"
	const prefix = "MOTION_TRACKER"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")
	db, err := database.Open(database.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		if err := db.Close(); err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	// =========================================================================
	// Start Redis

	log.Printf("main: Connecting to Redis at %s\n", cfg.Redis.Addr)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer func() {
		log.Printf("main: closing connection to Redis")
		if err := redisClient.Close(); err != nil {
			log.Printf("main: error closing redis client: %v", err)
		}
	}()
	hotStore := hotstate.New(log, redisClient, cfg.Redis.StateTTL)

	// =========================================================================
	// Start NATS

	log.Printf("main: Connecting to NATS\n")
	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing connection to NATS")
		natsConn.Close()
	}()
	publisher := bus.NewPublisher(log, natsConn)

	// Subscriptions get their own connection, separate from publishing.
	subConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("unable to establish subscription connection to nats server: %w", err)
	}
	defer func() {
		log.Printf("main: closing subscription connection to NATS")
		subConn.Close()
	}()

	// =========================================================================
	// Wire the pipeline

	smCfg := statemachine.Config{
		MinMovingSpeedKmh:          cfg.Motion.MinMovingSpeedKmh,
		MinTripDistanceM:           cfg.Motion.MinTripDistanceM,
		MinTripDurationSec:         cfg.Motion.MinTripDurationSec,
		MinStopDurationSec:         cfg.Motion.MinStopDurationSec,
		MaxGapDurationSec:          cfg.Motion.MaxGapDurationSec,
		MaxOvernightGapDurationSec: cfg.Motion.MaxOvernightGapDurationSec,
		OrphanTripTimeoutSec:       cfg.Motion.OrphanTripTimeoutSec,
		MaxIdleDurationSec:         cfg.Motion.MaxIdleDurationSec,
	}
	processor := pipeline.New(log, db, hotStore, publisher, smCfg)

	ctx := context.Background()
	dispatcher := dispatch.New(log, func(sample motiondata.Sample) {
		processor.Process(ctx, sample)
	})

	ch := make(chan *nats.Msg, 1024)
	sub, err := bus.SubscribePositions(log, subConn, ch)
	if err != nil {
		return fmt.Errorf("subscribing to position samples: %w", err)
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-ch:
				sample, err := bus.DecodeSample(msg)
				if err != nil {
					log.Printf("main: failed decoding position sample: %v", err)
					continue
				}
				dispatcher.Dispatch(sample)
			case <-shutdownSignal:
				bus.Unsubscribe(log, sub, "position:new")
				dispatcher.Shutdown()
				return
			}
		}
	}()

	log.Printf("main: motion-tracker ready, consuming %s\n", bus.SubjectPositionNew)
	wg.Wait()
	return nil
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
