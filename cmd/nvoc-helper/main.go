// nvoc-helper is the privileged executor launched via pkexec. It parses
// one command from argv, performs the device mutation and prints a single
// JSON response on stdout.
package main

import (
	goflag "flag"
	"os"
	"path/filepath"

	"github.com/ngaut/log"
	flag "github.com/spf13/pflag"

	"github.com/nvoc-project/nvoc/internal/config"
	"github.com/nvoc-project/nvoc/internal/helper"
	"github.com/nvoc-project/nvoc/internal/profiles"
)

var (
	gpuIndex   = flag.IntP("gpu", "g", -1, "GPU index to operate on, overrides the config file")
	configFile = flag.StringP("config", "c", "", "Path to the TOML config file")
	logLevel   = flag.StringP("logLevel", "l", "warn", "Log level")
)

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	// stdout carries exactly one JSON object; logging stays on stderr
	log.SetLevelByString(*logLevel)

	name := *configFile
	if name == "" {
		name = filepath.Join(config.DefaultConfigDir(), "config.toml")
	}
	cfg, err := config.NewConfigWithFile(name)
	if err != nil {
		log.Errorf("load config %s: %v", name, err)
		cfg = config.Default()
	}
	if *gpuIndex >= 0 {
		cfg.GPUIndex = *gpuIndex
	}

	exec := &helper.Executor{
		GPUIndex:     cfg.GPUIndex,
		Limits:       cfg.SafetyLimits(),
		BootFallback: cfg.BootProfileName,
	}
	if store, err := profiles.NewStore(cfg.ProfilesDir()); err == nil {
		exec.Store = store
	}
	if flags, err := profiles.NewFlags(cfg.ConfigDir); err == nil {
		exec.Flags = flags
	}

	os.Exit(exec.Run(flag.Args(), os.Stdout))
}
