package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/loykin/roomrec/internal/archive"
	"github.com/loykin/roomrec/internal/config"
	"github.com/loykin/roomrec/internal/guard"
	"github.com/loykin/roomrec/internal/history"
	"github.com/loykin/roomrec/internal/history/factory"
	"github.com/loykin/roomrec/internal/organizer"
	"github.com/loykin/roomrec/internal/room"
)

// app holds the components every command builds from configuration.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     *slog.Logger
	roster  *room.Roster
	env     []string
	locks   *guard.Guard
	archive *archive.Manager

	closers []io.Closer
}

// loadApp reads configuration; bind may attach command flags to viper keys
// before the file is read.
func loadApp(g *GlobalFlags, bind func(v *viper.Viper) error) (*app, error) {
	v := config.New()
	if bind != nil {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	cfg, err := config.Load(v, g.ConfigPath)
	if err != nil {
		return nil, err
	}
	lc := cfg.Logger()
	log := lc.NewSlogger()

	roster, err := cfg.Roster()
	if err != nil {
		return nil, err
	}
	env, err := cfg.RecorderEnv()
	if err != nil {
		return nil, err
	}

	a := &app{v: v, cfg: cfg, log: log, roster: roster, env: env}
	a.locks = guard.New(cfg.WorkDir, log)
	a.archive = archive.New(archive.Config{
		WorkDir:    cfg.WorkDir,
		ArchiveDir: cfg.ArchiveDir,
		NameFor:    roster.Name,
	}, archive.FFmpegConcat{Binary: cfg.Recorder.FFmpeg, Env: env}, log)
	return a, nil
}

func (a *app) organizer() *organizer.Organizer {
	return organizer.New(organizer.Config{
		WorkDir:    a.cfg.WorkDir,
		ArchiveDir: a.cfg.ArchiveDir,
		Settle:     a.cfg.Organizer.Settle,
		NameFor:    a.roster.Name,
	}, a.locks, a.log)
}

// emitter opens the configured history sink; nil when none is configured.
func (a *app) emitter() (*history.Emitter, error) {
	if a.cfg.History.DSN == "" {
		return nil, nil
	}
	sink, err := factory.NewSinkFromDSN(a.cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("history sink: %w", err)
	}
	if c, ok := sink.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return &history.Emitter{Sink: sink, Log: a.log}, nil
}

// emitMerge records the outcome of an operator-triggered merge.
func (a *app) emitMerge(ctx context.Context, em *history.Emitter, roomID string, res *archive.Archive, err error) {
	var me *archive.MergeError
	switch {
	case err == nil:
		em.Emit(ctx, history.Event{Type: history.EventMergeCompleted, RoomID: roomID, DisplayName: res.DisplayName, SegmentPath: res.Path})
	case errors.As(err, &me):
		em.Emit(ctx, history.Event{Type: history.EventMergeFailed, RoomID: roomID, SegmentPath: me.Output, Detail: me.Err.Error()})
	}
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
