package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tazhate/taskseries/config"
	"github.com/tazhate/taskseries/internal/clients/caldav"
	"github.com/tazhate/taskseries/internal/logging"
	"github.com/tazhate/taskseries/internal/service"
	"github.com/tazhate/taskseries/internal/storage"
	"github.com/tazhate/taskseries/internal/toolserver"
)

// seriesctl serves the series tools over stdio. Stdout carries the protocol,
// so logs go to stderr.
func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.NewWithWriter(logging.Config{}, os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.NewWithWriter(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr)

	store, err := storage.New(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init storage")
	}
	defer store.Close()

	clock := service.SystemClock{Location: cfg.Timezone}
	materializer := service.NewMaterializer(service.MaterializerConfig{
		HorizonDays:   cfg.HorizonDays,
		MaxIterations: cfg.MaxIterations,
	}, log)
	seriesSvc := service.NewSeriesService(store, materializer, clock, log)

	var client service.CalendarClient
	if cfg.CalDAV.Enabled() {
		c := caldav.NewClient(cfg.CalDAV.URL, cfg.CalDAV.Username, cfg.CalDAV.Password)
		c.SetCalendarID(cfg.CalDAV.Calendar)
		client = c
	}
	calendarSvc := service.NewCalendarService(store, client, clock, log)
	if calendarSvc.IsConfigured() {
		seriesSvc.SetPublisher(calendarSvc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskSvc := service.NewTaskService(store, clock)
	server := toolserver.New(seriesSvc, taskSvc, calendarSvc, cfg.Timezone, log)
	if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("tool server stopped")
	}
}
