// Package config defines the build configuration record: one typed value,
// loaded and validated up front, that every build stage reads as immutable
// shared state.
package config

import (
	"gopkg.in/yaml.v3"
)

// Supported initramfs generators.
const (
	InitrdGenDracut      = "dracut"
	InitrdGenMkinitramfs = "mkinitramfs"
)

// ValidationError reports a configuration that cannot drive a build.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Config is the single record flowing through the whole pipeline. Optional
// sections are pointers: a nil section means the corresponding stages are
// skipped entirely.
type Config struct {
	SourceDir  string `yaml:"srcdir"`
	BuildDir   string `yaml:"builddir"`
	SplitBuild bool   `yaml:"splitbuild"`
	ImageType  string `yaml:"image-type"`
	KConfig    string `yaml:"config"`
	TmpDir     string `yaml:"tmpdir"`

	Make MakeConfig `yaml:"make"`

	Verbose   bool `yaml:"verbose"`
	Clean     bool `yaml:"clean"`
	PostClean bool `yaml:"postclean"`
	PostNuke  bool `yaml:"postnuke"`

	Output  *OutputSpec  `yaml:"output"`
	Install *InstallSpec `yaml:"install"`

	// TargetDir is the resolved build directory: the split-build directory
	// when one is requested, the source tree otherwise. Computed exactly once
	// by Finalize and never recomputed.
	TargetDir string `yaml:"-"`
}

// MakeConfig describes how the build tool is invoked.
type MakeConfig struct {
	Command string `yaml:"command"`
	Jobs    int    `yaml:"jobs"`
	Opts    string `yaml:"opts"`
}

// OutputSpec describes the versioned artifact collection directory.
type OutputSpec struct {
	Directory   string `yaml:"directory"`
	ImagePrefix string `yaml:"image-prefix"`
	Modules     bool   `yaml:"modules"`
	Headers     bool   `yaml:"headers"`
}

// InstallSpec describes installation into the boot directory.
type InstallSpec struct {
	BootDir      string `yaml:"bootdir"`
	Symlink      bool   `yaml:"symlink"`
	KeepOld      bool   `yaml:"keep-old"`
	Modules      bool   `yaml:"modules"`
	ImagePrefix  string `yaml:"image-prefix"`
	InitrdGen    string `yaml:"initrd-gen"`
	InitrdOpts   string `yaml:"initrd-opts"`
	InitrdPrefix string `yaml:"initrd-prefix"`
}

// UnmarshalYAML decodes the install section over its defaults, so omitted
// keys keep their documented default-true behavior.
func (s *InstallSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain InstallSpec
	decoded := plain(DefaultInstallSpec())
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*s = InstallSpec(decoded)
	return nil
}

// DefaultInstallSpec returns the install section defaults.
func DefaultInstallSpec() InstallSpec {
	return InstallSpec{
		BootDir:      "/boot",
		Symlink:      true,
		KeepOld:      true,
		Modules:      true,
		ImagePrefix:  "kernel",
		InitrdPrefix: "initramfs",
	}
}
