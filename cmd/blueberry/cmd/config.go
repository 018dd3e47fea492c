package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/blueberry"
	"github.com/GoCodeAlone/blueberry/feeders"
	"github.com/GoCodeAlone/blueberry/internal/logging"
	"github.com/spf13/cobra"
)

// envPrefix prefixes every environment variable the commands read.
const envPrefix = "BLUEBERRY"

type verboseFeeder interface {
	SetVerboseDebug(enabled bool, logger feeders.DebugLogger)
}

type configFlags struct {
	path        string
	application string
	product     string
	noDefault   bool
	extensions  string
	admin       string
	debug       bool
}

func (f *configFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", "", "configuration file (.yaml, .toml or .json)")
	cmd.Flags().StringVarP(&f.application, "application", "a", "", "default application id")
	cmd.Flags().StringVar(&f.product, "product", "", "product id")
	cmd.Flags().BoolVar(&f.noDefault, "no-default", false, "do not launch the default application")
	cmd.Flags().StringVarP(&f.extensions, "extensions", "e", "", "directory of plugin manifests")
	cmd.Flags().StringVar(&f.admin, "admin", "", "address of the admin API, e.g. :8080")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging")
}

// load reads the configuration file, then the environment, then the flags.
func (f *configFlags) load() (*blueberry.Config, error) {
	cfg := blueberry.DefaultConfig()

	var sources []feeders.Feeder
	if f.path != "" {
		fileFeeder, err := fileFeeder(f.path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, fileFeeder)
	}
	sources = append(sources, feeders.NewAffixedEnvFeeder(envPrefix, ""))
	if f.debug {
		dbg, err := logging.New(logging.DevelopmentConfig())
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			if v, ok := src.(verboseFeeder); ok {
				v.SetVerboseDebug(true, dbg.Named("config"))
			}
		}
	}
	if err := blueberry.LoadConfig(cfg, sources...); err != nil {
		return nil, err
	}

	if f.application != "" {
		cfg.Application = f.application
	}
	if f.product != "" {
		cfg.Product = f.product
	}
	if f.noDefault {
		launch := false
		cfg.LaunchDefault = &launch
	}
	if f.extensions != "" {
		cfg.ExtensionDir = f.extensions
	}
	if f.admin != "" {
		cfg.AdminAddr = f.admin
	}
	if f.debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

func fileFeeder(path string) (feeders.Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return feeders.NewYamlFeeder(path), nil
	case ".toml":
		return feeders.NewTomlFeeder(path), nil
	case ".json":
		return feeders.NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("unsupported config file %q", path)
	}
}
