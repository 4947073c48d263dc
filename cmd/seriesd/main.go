package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/config"
	"github.com/tazhate/taskseries/internal/clients/caldav"
	"github.com/tazhate/taskseries/internal/logging"
	"github.com/tazhate/taskseries/internal/scheduler"
	"github.com/tazhate/taskseries/internal/service"
	"github.com/tazhate/taskseries/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New(logging.Config{})
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("seriesd failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	store, err := storage.New(cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	clock := service.SystemClock{Location: cfg.Timezone}
	materializer := service.NewMaterializer(service.MaterializerConfig{
		HorizonDays:   cfg.HorizonDays,
		MaxIterations: cfg.MaxIterations,
	}, log)
	seriesSvc := service.NewSeriesService(store, materializer, clock, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background work that touches the store finishes before it is closed.
	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.CalDAV.Enabled() {
		client := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
		client.SetCalendarID(cfg.CalDAV.Calendar)
		calendarSvc := service.NewCalendarService(store, client, clock, log)
		seriesSvc.SetPublisher(calendarSvc)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := calendarSvc.SyncAll(ctx); err != nil {
				log.Warn().Err(err).Msg("initial calendar sync failed")
			}
		}()
	}

	sched := scheduler.New(scheduler.Config{
		Schedule: cfg.CoverageSchedule,
		Location: cfg.Timezone,
	}, seriesSvc, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.Start(ctx)
	}()

	log.Info().
		Str("db", cfg.DatabasePath).
		Str("tz", cfg.Timezone.String()).
		Int("horizon_days", cfg.HorizonDays).
		Bool("caldav", cfg.CalDAV.Enabled()).
		Msg("seriesd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var startErr error
	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
		cancel()
		startErr = <-errCh
	case startErr = <-errCh:
	}

	cancel()
	sched.Stop()
	if startErr != nil {
		return startErr
	}
	log.Info().Msg("seriesd stopped")
	return nil
}
