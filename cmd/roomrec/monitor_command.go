package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/roomrec/internal/config"
	"github.com/loykin/roomrec/internal/cron"
	"github.com/loykin/roomrec/internal/metrics"
	"github.com/loykin/roomrec/internal/monitor"
	"github.com/loykin/roomrec/internal/organizer"
	"github.com/loykin/roomrec/internal/recorder"
	"github.com/loykin/roomrec/internal/room"
	"github.com/loykin/roomrec/internal/server"
	rtls "github.com/loykin/roomrec/internal/tls"
)

const shutdownTimeout = 5 * time.Second

// createMonitorCommand creates the monitor subcommand
func createMonitorCommand(globalFlags *GlobalFlags, flags *MonitorFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor <room id or url>",
		Short: "Watch a room and record every broadcast",
		Long: `Poll a room and record each live broadcast into segment files in work_dir.
A dropped stream is resumed into a new segment; when the broadcast ends the
segments can be merged automatically. Only one monitor per room runs at a
time: starting a second one terminates the first.

With server.listen set, the operator API (status, merge, organize,
delete segments, metrics) is served while monitoring.

Examples:
  roomrec monitor 123456
  roomrec monitor 123456 --name=Alice --interval=15s --auto-merge
  roomrec monitor https://live.douyin.com/123456 --preview --config=roomrec.toml --watch-config`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bind := func(v *viper.Viper) error {
				return bindFlags(v, cmd, map[string]string{
					"monitor.interval":   "interval",
					"monitor.auto_merge": "auto-merge",
					"monitor.preview":    "preview",
				})
			}
			a, err := loadApp(globalFlags, bind)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, a, globalFlags, flags, args[0])
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "display name used in file names (default from roster or provider)")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 0, "status polling interval (default from config, 30s)")
	cmd.Flags().BoolVar(&flags.AutoMerge, "auto-merge", false, "merge the session's segments when the broadcast ends")
	cmd.Flags().BoolVar(&flags.Preview, "preview", false, "show a live preview window with ffplay")
	return cmd
}

// bindFlags maps viper keys to command flags; only flags set on the command
// line override file and environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

func runMonitor(ctx context.Context, a *app, g *GlobalFlags, flags *MonitorFlags, arg string) error {
	cfg := a.cfg
	roomID, err := room.ExtractRoomID(arg)
	if err != nil {
		return err
	}
	if cfg.Provider.URL == "" {
		return errors.New("provider.url is required to monitor a room")
	}
	provider, err := room.NewHTTPProvider(cfg.ProviderHTTP())
	if err != nil {
		return err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	events, err := a.emitter()
	if err != nil {
		return err
	}

	rec := recorder.New(recorder.Config{
		FFmpeg:    cfg.Recorder.FFmpeg,
		FFplay:    cfg.Recorder.FFplay,
		ExtraArgs: cfg.Recorder.ExtraArgs,
		Env:       a.env,
		StopGrace: cfg.Monitor.StopGrace,
		Log:       cfg.Logger().File,
	}, a.log)

	display := flags.Name
	if display == "" {
		display = a.roster.Name(roomID)
	}
	mon := monitor.New(monitor.Options{
		RoomID:      roomID,
		DisplayName: display,
		WorkDir:     cfg.WorkDir,
		Interval:    cfg.Monitor.Interval,
		AutoMerge:   cfg.Monitor.AutoMerge,
		Preview:     cfg.Monitor.Preview,
		StopGrace:   cfg.Monitor.StopGrace,
		RapidExit:   cfg.Monitor.RapidExit,
		Format:      cfg.Recorder.Format,
		Auth: recorder.Auth{
			Referer:   cfg.Recorder.Referer,
			UserAgent: cfg.Recorder.UserAgent,
			Headers:   cfg.Recorder.Headers,
		},
	}, monitor.Deps{
		Provider: provider,
		Recorder: monitor.FFmpegRecorder{FFmpeg: rec},
		Locks:    a.locks,
		Archiver: a.archive,
		Events:   events,
		Log:      a.log,
	})
	a.archive.SetInUse(func(path string) bool { return path == mon.Snapshot().CurrentSegment })

	org := a.organizer()
	if cfg.Organizer.OnStart {
		sweep(ctx, a, org)
	}
	if cfg.Organizer.Schedule != "" {
		sched := cron.NewScheduler(a.log)
		if err := sched.Add("organize", cfg.Organizer.Schedule, func(ctx context.Context) { sweep(ctx, a, org) }); err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Stop(sctx); err != nil {
				a.log.Warn("scheduler stop", "error", err)
			}
		}()
	}

	if cfg.Server.Listen != "" {
		tlsCfg, err := rtls.Setup(cfg.Server.TLS)
		if err != nil {
			return err
		}
		router := server.NewRouter(server.Options{
			Monitors:  []server.StatusSource{mon},
			Archive:   a.archive,
			Organizer: org,
			Log:       a.log,
		})
		srv, err := server.NewServer(cfg.Server.Listen, router.Handler(), tlsCfg, a.log)
		if err != nil {
			return fmt.Errorf("operator api: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if g.WatchConfig && g.ConfigPath != "" {
		config.Watch(a.v, a.log, func(c *config.Config) {
			mon.UpdateOptions(c.Monitor.Interval, c.Monitor.AutoMerge)
		})
	}

	a.log.Info("monitor starting", "room", roomID, "name", display, "interval", cfg.Monitor.Interval,
		"auto_merge", cfg.Monitor.AutoMerge, "work_dir", cfg.WorkDir)
	err = mon.Run(ctx)
	a.log.Info("monitor stopped", "room", roomID)
	return err
}

func sweep(ctx context.Context, a *app, org *organizer.Organizer) {
	rep, err := org.Sweep(ctx)
	if err != nil {
		a.log.Warn("organizer sweep finished with errors", "error", err)
	}
	a.log.Info("organizer sweep", "moved", rep.Moved, "duplicates", rep.Duplicates,
		"conflicts", rep.Conflicts, "skipped", rep.Skipped)
}
