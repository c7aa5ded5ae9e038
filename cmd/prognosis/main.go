package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/internal/processor"
	"github.com/richard-senior/podds/pkg/config"
	"github.com/richard-senior/podds/pkg/podds"
)

func main() {
	// Parse command line flags
	debug := flag.Bool("debug", false, "Enable debug logging")
	inputFile := flag.String("input", "", "Input file path (if not provided, stdin will be used)")
	outputFile := flag.String("output", "", "Output file path (if not provided, stdout will be used)")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		logger.Fatal("Failed to configure logging", err)
	}
	if *outputFile == "" && cfg.LogOutput == 'c' {
		// stdout carries the result
		logger.SetWriter(os.Stderr)
	}
	logger.SetShowDateTime(true)

	leagues, err := cfg.Leagues()
	if err != nil {
		logger.Fatal("Failed to load leagues", err)
	}

	var input []byte
	if *inputFile != "" {
		input, err = os.ReadFile(*inputFile)
		if err != nil {
			logger.Fatal("Failed to read input file", err)
		}
	} else {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			logger.Fatal("Failed to read from stdin", err)
		}
	}

	// calibration is neutral offline; the server holds the learned parameters
	result, err := processor.ProcessRequest(input, processor.Engine{
		Leagues:      leagues,
		Calibrations: podds.NewCalibrationStore(),
		Simulation:   cfg.Simulation(),
		Bankroll:     cfg.Bankroll,
	})
	if err != nil {
		logger.Error("Failed to process request", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, result, 0644); err != nil {
			logger.Fatal("Failed to write to output file", err)
		}
	} else {
		fmt.Println(string(result))
	}
	logger.Info("Prognosis completed")
}
