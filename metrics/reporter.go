package metrics

import (
	"context"
	"sync"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/quickies-app/realtime-backend/store"
	Logger "github.com/quickies-app/realtime-backend/utils/log"
)

const (
	DdogChangeEventCounter = "engine.change_event"
)

type ReporterConfig struct {
	Name string
}

// Reporter's job is to listen to the change topics and aggregate volumes,
// sending to Datadog (or other service if there's any) for monitoring
// purpose: content fanout, notification emits, presence transitions,
// moderation settlements.
type Reporter struct {
	Config ReporterConfig

	Statsd *statsd.Client

	Bus *store.Bus
}

func NewReporter(config ReporterConfig, statsdClient *statsd.Client, bus *store.Bus) *Reporter {
	return &Reporter{
		Config: config,
		Statsd: statsdClient,
		Bus:    bus,
	}
}

// Run consumes every collection topic until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	collections := []string{
		store.CollectionQuickies,
		store.CollectionNotifications,
		store.CollectionPresence,
		store.CollectionReports,
		store.CollectionConversations,
	}

	var wg sync.WaitGroup
	for _, collection := range collections {
		events, err := r.Bus.Events(ctx, collection)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(collection string, events <-chan store.DocEvent) {
			defer wg.Done()
			for ev := range events {
				r.report(ev)
			}
		}(collection, events)
	}
	wg.Wait()
	return nil
}

func (r *Reporter) report(ev store.DocEvent) {
	err := r.Statsd.Incr(DdogChangeEventCounter, []string{
		"reporter:" + r.Config.Name,
		"collection:" + ev.Collection,
		"kind:" + string(ev.Kind),
	}, 1)
	if err != nil {
		Logger.LogV2.Infof("cannot report change event for %s", ev.Collection)
	}
}
