package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/itzg/go-flagsfiller"
	"github.com/sirupsen/logrus"

	"github.com/mcgateway/mc-gateway/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func showVersion() {
	fmt.Printf("%v, commit %v, built at %v", version, commit, date)
}

func main() {
	var config server.Config
	var versionFlag bool
	flag.BoolVar(&versionFlag, "version", false, "Output version and exit")

	filler := flagsfiller.New(flagsfiller.WithEnv("MC_GATEWAY"))
	if err := filler.Fill(flag.CommandLine, &config); err != nil {
		logrus.WithError(err).Fatal("Unable to set up command line parsing")
	}
	flag.Parse()

	if versionFlag {
		showVersion()
		os.Exit(0)
	}

	if config.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Enabled debug logging")
	}

	if config.CpuProfile != "" {
		cpuProfileFile, err := os.Create(config.CpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to create cpu profile file")
		}

		logrus.WithField("file", config.CpuProfile).Info("Starting cpu profiling")
		err = pprof.StartCPUProfile(cpuProfileFile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewServer(ctx, &config)
	if err != nil {
		logrus.WithError(err).Fatal("Unable to set up server")
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	reloadChan := make(chan os.Signal, 1)
	signal.Notify(reloadChan, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-reloadChan:
				srv.ReloadConfig()

			case <-stopChan:
				logrus.Info("Stopping")
				cancel()
				return
			}
		}
	}()

	// blocks until the context is cancelled and in-flight connections drain
	srv.Run()
}
