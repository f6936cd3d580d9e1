package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/quickies-app/realtime-backend/chat"
	"github.com/quickies-app/realtime-backend/engagement"
	"github.com/quickies-app/realtime-backend/feed"
	"github.com/quickies-app/realtime-backend/follow"
	"github.com/quickies-app/realtime-backend/mediastore"
	"github.com/quickies-app/realtime-backend/metrics"
	"github.com/quickies-app/realtime-backend/moderation"
	"github.com/quickies-app/realtime-backend/notification"
	"github.com/quickies-app/realtime-backend/presence"
	"github.com/quickies-app/realtime-backend/store"
	"github.com/quickies-app/realtime-backend/subscription"
	"github.com/quickies-app/realtime-backend/transport"
	"github.com/quickies-app/realtime-backend/utils"
	"github.com/quickies-app/realtime-backend/utils/dotenv"
	. "github.com/quickies-app/realtime-backend/utils/flag"
	. "github.com/quickies-app/realtime-backend/utils/log"
)

const orphanSweepInterval = 10 * time.Minute

func cleanup() {
	LogV2.Info("engine server shutdown")
}

func main() {
	ParseFlags()
	defer cleanup()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	db, err := utils.GetDBConnection()
	if err != nil {
		panic("failed to connect to database")
	}
	if err := store.Migrate(db); err != nil {
		panic(err)
	}

	bus := store.NewBus()
	defer bus.Close()
	st := store.NewStore(db, bus)
	redisStore := utils.NewRedisStatusStore()

	router := notification.NewRouter(st, redisStore)
	follows := follow.NewService(st, router)

	media, err := mediastore.NewS3MediaStore(os.Getenv("MEDIA_BUCKET"))
	if err != nil {
		panic(err)
	}
	content := engagement.NewService(st, router, media)
	machine := moderation.NewMachine(st, router, content)
	chats := chat.NewService(st)

	mux := subscription.NewMultiplexer(st)
	aggregator := feed.NewAggregator(mux, follows)

	hub := transport.NewHub()
	presenceBackend := presence.NewStoreBackend(st, redisStore)
	tracker, err := presence.NewTracker(presenceBackend, hub, presence.DefaultConfig())
	if err != nil {
		panic(err)
	}
	hub.BindTracker(tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if addr := os.Getenv("STATSD_ADDR"); len(addr) > 0 {
		statsdClient, err := statsd.New(addr)
		if err != nil {
			panic(err)
		}
		reporter := metrics.NewReporter(metrics.ReporterConfig{Name: *ServiceName}, statsdClient, bus)
		go func() {
			if err := reporter.Run(ctx); err != nil {
				LogV2.Errorf("metrics reporter stopped: %v", err)
			}
		}()
	}

	// dismissals interrupted between their two phases by the last shutdown
	if reaped, err := router.ReapDismissed(ctx); err != nil {
		LogV2.Errorf("dismissal reap failed: %v", err)
	} else if reaped > 0 {
		LogV2.Infof("reaped %d half-dismissed notifications", reaped)
	}

	// periodic reconciliation: orphaned reports and stranded dismissals
	go func() {
		ticker := time.NewTicker(orphanSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := machine.Sweep(ctx)
				if err != nil {
					LogV2.Errorf("orphan sweep failed: %v", err)
				} else if purged > 0 {
					LogV2.Infof("orphan sweep purged %d reports", purged)
				}
				if reaped, err := router.ReapDismissed(ctx); err != nil {
					LogV2.Errorf("dismissal reap failed: %v", err)
				} else if reaped > 0 {
					LogV2.Infof("reaped %d half-dismissed notifications", reaped)
				}
			}
		}
	}()

	// Default With the Logger and Recovery middleware already attached
	engine := gin.Default()
	engine.Use(cors.Default())
	engine.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	hub.Register(engine)
	api := transport.NewAPI(content, follows, router, machine, chats, aggregator, tracker, hub)
	api.Register(engine)

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		cancel()
	}()

	LogV2.Info("engine server starting on port " + fmt.Sprint(*Port))
	if err := engine.Run(fmt.Sprintf(":%d", *Port)); err != nil {
		panic(err)
	}
}
