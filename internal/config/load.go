package config

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const defaultImageType = "bzImage"

// Load reads a configuration file, injects defaults, resolves the target
// directory, and validates the result. Errors from the validation phase are
// *ValidationError values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("cannot read configuration %s: %v", path, err)}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("cannot parse configuration %s: %v", path, err)}
	}

	if err := Finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize injects defaults, computes the target directory, and validates.
// It runs exactly once per record, before any stage executes; no stage
// performs its own default-filling.
func Finalize(cfg *Config) error {
	if cfg.ImageType == "" {
		cfg.ImageType = defaultImageType
	}
	if cfg.Make.Command == "" {
		cfg.Make.Command = "make"
	}
	if cfg.Make.Jobs <= 0 {
		cfg.Make.Jobs = defaultJobCount()
	}
	if cfg.TmpDir == "" {
		if env := os.Getenv("TMPDIR"); env != "" {
			cfg.TmpDir = env
		} else {
			cfg.TmpDir = "/tmp"
		}
	}
	if cfg.Output != nil && cfg.Output.ImagePrefix == "" {
		cfg.Output.ImagePrefix = "kernel"
	}

	if err := resolveTargetDir(cfg); err != nil {
		return err
	}
	return validate(cfg)
}

// resolveTargetDir computes the directory the build tool works in. For a
// split build this is the explicit build directory, falling back to the
// current working directory; otherwise it is the source tree itself.
func resolveTargetDir(cfg *Config) error {
	if cfg.SplitBuild {
		if cfg.BuildDir != "" {
			cfg.TargetDir = cfg.BuildDir
			return nil
		}
		cwd, err := os.Getwd()
		if err != nil {
			return &ValidationError{Message: fmt.Sprintf("cannot determine working directory: %v", err)}
		}
		cfg.TargetDir = cwd
		return nil
	}
	cfg.TargetDir = cfg.SourceDir
	return nil
}

func validate(cfg *Config) error {
	if cfg.SourceDir == "" {
		return &ValidationError{Message: "the configuration must specify a source directory"}
	}
	if err := unix.Access(cfg.SourceDir, unix.R_OK|unix.X_OK); err != nil {
		return &ValidationError{Message: fmt.Sprintf("cannot access kernel sources at %s", cfg.SourceDir)}
	}

	if cfg.Output != nil && cfg.Output.Directory == "" {
		return &ValidationError{Message: "the 'output' section must have a 'directory' key"}
	}

	if cfg.Install != nil {
		switch cfg.Install.InitrdGen {
		case "", InitrdGenDracut, InitrdGenMkinitramfs:
		default:
			return &ValidationError{Message: fmt.Sprintf("the %q initrd generator is not supported", cfg.Install.InitrdGen)}
		}
		if cfg.Install.InitrdGen != "" && !cfg.Install.Modules {
			return &ValidationError{Message: "generating an initramfs requires the kernel modules to be installed"}
		}
	}
	return nil
}

// defaultJobCount derives the make job count from the CPUs this process may
// run on, which respects affinity restrictions the way a plain CPU count
// does not.
func defaultJobCount() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
