package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"
)

// Config holds the optional settings of a backup run. Everything has a
// sensible default, the file only exists for non-github deployments and
// scheduled jobs which want metrics.
type Config struct {
	// base URL of the hosting API, empty means the public GitHub API
	APIURL string `yaml:"api_url"`

	// base URL from which clone URLs are constructed as
	// <remote_base>/<user>/<name>.git
	RemoteBase string `yaml:"remote_base"`

	// git garbage collection mode applied to fresh clones, valid values
	// are 'auto', 'always', 'aggressive' or 'off'
	GitGC string `yaml:"git_gc"`

	// per request timeout of the repository listing calls
	ListTimeout time.Duration `yaml:"list_timeout"`

	// if set, prometheus metrics are written to this file in text
	// exposition format after the run (node_exporter textfile collector)
	MetricsFile string `yaml:"metrics_file"`
}

func parseConfigFile(path string) (*Config, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func applyDefaults(conf *Config) {
	if conf.RemoteBase == "" {
		conf.RemoteBase = "https://github.com"
	}

	// mirrors are written once and then only fetched, pack them hard
	if conf.GitGC == "" {
		conf.GitGC = "aggressive"
	}

	if conf.ListTimeout == 0 {
		conf.ListTimeout = 30 * time.Second
	}
}

// writeMetricsFile dumps the default prometheus registry to the given
// path in text exposition format. The file is written to a temporary
// path first and renamed into place so a scraper never sees a partial
// dump.
func writeMetricsFile(path string) error {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("unable to gather metrics: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("unable to create '%s': %w", tmp, err)
	}

	enc := expfmt.NewEncoder(file, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			file.Close()
			return fmt.Errorf("unable to encode metrics: %w", err)
		}
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("unable to close '%s': %w", tmp, err)
	}

	return os.Rename(tmp, path)
}
