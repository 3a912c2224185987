package server

import (
	"context"
	"io/fs"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const debounceConfigRereadDuration = time.Second * 5

var EndpointsConfigLoader = &endpointsConfigLoader{}

type endpointsConfigLoader struct {
	fileName string
}

// EndpointsConfigSchema declares the schema of the yaml file that provides
// endpoints and the client blocklist. The blocklist is only consumed at
// startup; reloads apply endpoint changes only.
type EndpointsConfigSchema struct {
	Endpoints []Endpoint `yaml:"endpoints"`
	Blocklist []string   `yaml:"blocklist"`
}

func (l *endpointsConfigLoader) Load(endpointsConfigFileName string) (*EndpointsConfigSchema, error) {
	l.fileName = endpointsConfigFileName

	logrus.WithField("endpointsConfigFileName", l.fileName).Info("Loading endpoints config file")

	config, readErr := l.readFile()

	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			logrus.WithField("endpointsConfigFileName", l.fileName).Info("Endpoints config file does not exist, skipping reading it")
			// File doesn't exist -> ignore it
			return &EndpointsConfigSchema{}, nil
		}
		return nil, readErr
	}

	Routes.RegisterAll(config.Endpoints)
	return config, nil
}

func (l *endpointsConfigLoader) Reload() error {
	config, readErr := l.readFile()

	if readErr != nil {
		return readErr
	}

	logrus.WithField("endpointsConfig", l.fileName).Info("Re-loading endpoints config file")
	Routes.Reset()
	Routes.RegisterAll(config.Endpoints)

	return nil
}

func (l *endpointsConfigLoader) WatchForChanges(ctx context.Context) error {
	if l.fileName == "" {
		return errors.New("endpoints config file needs to be specified first")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Could not create a watcher")
	}

	err = watcher.Add(l.fileName)
	if err != nil {
		return errors.Wrap(err, "Could not watch the endpoints config file")
	}

	go func() {
		logrus.WithField("file", l.fileName).Info("Watching endpoints config file")

		debounceTimerChan := make(<-chan time.Time)
		var debounceTimer *time.Timer

		//goland:noinspection GoUnhandledErrorResult
		defer watcher.Close()
		for {
			select {

			case event, ok := <-watcher.Events:
				if !ok {
					logrus.Debug("Watcher events channel closed")
					return
				}
				logrus.
					WithField("file", event.Name).
					WithField("op", event.Op).
					Trace("fs event received")
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(debounceConfigRereadDuration)
					} else {
						debounceTimer.Reset(debounceConfigRereadDuration)
					}
					debounceTimerChan = debounceTimer.C
					logrus.WithField("delay", debounceConfigRereadDuration).Debug("Will re-read config file after delay")
				}

			case <-debounceTimerChan:
				readErr := l.Reload()
				if readErr != nil {
					logrus.
						WithError(readErr).
						WithField("endpointsConfig", l.fileName).
						Error("Could not re-read the endpoints config file")
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (l *endpointsConfigLoader) readFile() (*EndpointsConfigSchema, error) {
	var config EndpointsConfigSchema

	content, err := os.ReadFile(l.fileName)
	if err != nil {
		return &config, errors.Wrap(err, "Could not load the endpoints config file")
	}

	parseErr := yaml.Unmarshal(content, &config)
	if parseErr != nil {
		return &config, errors.Wrap(parseErr, "Could not parse the yaml endpoints config file")
	}

	for i := range config.Endpoints {
		if config.Endpoints[i].Hostname == "" {
			return &config, errors.Errorf("endpoint at index %d is missing a hostname", i)
		}
	}

	return &config, nil
}
