package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/config"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/scheduler"
	"github.com/richard-senior/podds/pkg/server"
	"github.com/richard-senior/podds/pkg/store"
	"github.com/richard-senior/podds/pkg/tools"
	"github.com/richard-senior/podds/pkg/transport"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if len(os.Args) > 1 && os.Args[1] == "calibrate" {
		if err := cfg.ApplyLogging(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if err := calibrate(cfg, os.Args[2:]); err != nil {
			logger.Error("Calibration failed:", err)
			os.Exit(1)
		}
		return
	}

	// stdout carries the protocol
	cfg.LogOutput = 'f'
	if err := cfg.ApplyLogging(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.SetShowDateTime(true)

	if err := serve(cfg); err != nil {
		logger.Error("Server error:", err)
		os.Exit(1)
	}
	logger.Info("podds server shutting down")
}

// open loads the leagues and the persisted calibration
func open(ctx context.Context, cfg *config.Config) (podds.Leagues, *store.Store, *podds.CalibrationStore, error) {
	leagues, err := cfg.Leagues()
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := store.Open(ctx, cfg.DbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	saved, err := s.LoadAllCalibration(ctx)
	if err != nil {
		s.Close()
		return nil, nil, nil, err
	}
	logger.Info("Loaded calibration for", len(saved), "leagues from", cfg.DbPath)
	return leagues, s, podds.NewCalibrationStore(saved...), nil
}

func serve(cfg *config.Config) error {
	ctx := context.Background()
	leagues, s, calibrations, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	job := scheduler.NewCalibrationJob(s, leagues, calibrations, cfg.CalibrationBatch)
	sched, err := scheduler.New(job, cfg.CalibrationCron)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	logger.Info("Next calibration at", sched.Next())

	k := tools.NewToolkit(leagues, calibrations, cfg.Simulation(), cfg.Bankroll)
	k.Store = s
	k.Job = job

	srv := server.New(transport.NewStdioTransport())
	for _, r := range k.Tools() {
		srv.RegisterTool(r.Tool, r.Handler)
	}
	return srv.Start(ctx)
}

// calibrate runs one calibration pass now, or resets a league with -reset
func calibrate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	reset := fs.String("reset", "", "Discard the stored calibration of this league")
	league := fs.String("league", "", "Calibrate only this league")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	leagues, s, calibrations, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if *reset != "" {
		if _, err := leagues.Get(*reset); err != nil {
			return err
		}
		if err := s.ResetCalibration(ctx, *reset); err != nil {
			return err
		}
		logger.Highlight("Calibration reset for", *reset)
		return nil
	}

	job := scheduler.NewCalibrationJob(s, leagues, calibrations, cfg.CalibrationBatch)
	var results []scheduler.LeagueResult
	if *league != "" {
		r, err := job.RunLeague(ctx, *league)
		if err != nil {
			return err
		}
		results = append(results, r)
	} else if results, err = job.Run(ctx); err != nil {
		return err
	}

	for _, r := range results {
		if r.Skipped {
			logger.Info(r.League, "skipped with", r.Matches, "settled matches")
			continue
		}
		logger.Highlight(r.League, "calibrated from", r.Matches, "matches,", len(r.Applied), "changes, version", r.Calibration.Version)
		for _, a := range r.Applied {
			logger.Inform("  ", a.Parameter, a.OldValue, "->", a.NewValue, a.Reason)
		}
	}
	return nil
}
