package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fixaren/backoffice/internal/config"
	"github.com/fixaren/backoffice/internal/db"
	"github.com/fixaren/backoffice/internal/events"
	"github.com/fixaren/backoffice/internal/logging"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/fixaren/backoffice/internal/notify/discord"
	"github.com/fixaren/backoffice/internal/notify/slack"
	"github.com/fixaren/backoffice/internal/pipeline"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultConfigPath = "backoffice.yaml"

// config loads the config file, falling back to built-in defaults when the
// default path does not exist, and overlays BO_* environment variables.
func (a *app) config() (*config.Config, error) {
	path := a.v.GetString("config")
	if path == "" {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(a.envOverlay)
	}
	return config.Load(path, a.envOverlay)
}

// envOverlay applies connection settings and secrets from the environment.
func (a *app) envOverlay(c *config.Config) {
	set := func(dst *string, key string) {
		if v := a.v.GetString(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.Driver, "database.driver")
	set(&c.Database.DSN, "database.dsn")
	set(&c.HTTP.Addr, "http.addr")
	set(&c.HTTP.JWTSecret, "jwt_secret")
	set(&c.Log.Level, "log.level")
	set(&c.Kafka.Password, "kafka.password")
	set(&c.Notify.Slack.BotToken, "slack_bot_token")
	set(&c.Notify.Discord.BotToken, "discord_bot_token")
}

func (a *app) tenant() (string, error) {
	t := a.v.GetString("tenant")
	if t == "" {
		return "", fmt.Errorf("tenant is required: pass --tenant or set BO_TENANT")
	}
	return t, nil
}

func (a *app) user() string {
	return a.v.GetString("user")
}

// runtime is an opened database plus the engine over it.
type runtime struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	db       *gorm.DB
	svc      *pipeline.Service
	events   *events.Fanout
	dispatch *events.Dispatcher
	metrics  *metrics.Metrics
}

// openOpts tweaks how open builds the runtime.
type openOpts struct {
	cfg     *config.Config     // loaded with a.config when nil
	log     *zap.SugaredLogger // defaults to a console logger on stderr
	metrics *metrics.Metrics
	migrate bool
}

func (a *app) open(stderr io.Writer, opts openOpts) (*runtime, error) {
	var err error
	cfg := opts.cfg
	if cfg == nil {
		if cfg, err = a.config(); err != nil {
			return nil, err
		}
	}
	log := opts.log
	if log == nil {
		if log, err = logging.NewConsole(stderr, cfg.Log.Level); err != nil {
			return nil, err
		}
	}
	if db.IsMemoryDSN(cfg.Database.DSN) {
		log.Warnw("database is in memory; nothing will persist", "dsn", cfg.Database.DSN)
	}

	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if opts.migrate {
		if err := db.AutoMigrate(gdb); err != nil {
			db.Close(gdb)
			return nil, err
		}
	}

	fanout, err := buildSinks(cfg, log, opts.metrics)
	if err != nil {
		db.Close(gdb)
		return nil, err
	}
	dispatch := events.NewDispatcher(fanout, events.DispatcherOpts{Log: log, Metrics: opts.metrics})
	svc := pipeline.New(gdb, pipeline.Options{
		Log:     log,
		Metrics: opts.metrics,
		Events:  dispatch,
	})
	return &runtime{cfg: cfg, log: log, db: gdb, svc: svc, events: fanout, dispatch: dispatch, metrics: opts.metrics}, nil
}

// Close delivers queued events, then closes the sinks and the database.
func (r *runtime) Close() error {
	err := r.dispatch.Close()
	r.log.Sync()
	return errors.Join(err, db.Close(r.db))
}

// buildSinks wires the configured event sinks. Kafka receives every event;
// chat channels receive only the types listed in notify.events.
func buildSinks(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Metrics) (*events.Fanout, error) {
	var sinks []events.Sink
	if cfg.Kafka.Enabled() {
		w, err := events.NewKafkaWriter(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.NewKafkaSink(w))
	}
	if cfg.Notify.Slack.Enabled() {
		s, err := slack.New(slack.Opts{BotToken: cfg.Notify.Slack.BotToken, ChannelID: cfg.Notify.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.Filter(s, cfg.Notify.Events...))
	}
	if cfg.Notify.Discord.Enabled() {
		s, err := discord.New(discord.Opts{BotToken: cfg.Notify.Discord.BotToken, ChannelID: cfg.Notify.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, events.Filter(s, cfg.Notify.Events...))
	}
	return events.NewFanout(log, m, sinks...), nil
}
