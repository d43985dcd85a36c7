package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/linbuild/linbuild/internal/config"
	"github.com/linbuild/linbuild/internal/fsutil"
)

// prepare sets up the build directory: creates it, seeds the kernel config
// when one is supplied, and runs the config-resolution target. An O= flag is
// passed only for out-of-tree builds.
func (p *Pipeline) prepare(ctx context.Context) error {
	cfg := p.Config
	logger := p.logger()

	if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		return fmt.Errorf("create build directory %s: %w", cfg.TargetDir, err)
	}
	if err := unix.Access(cfg.TargetDir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("unable to access build directory %s: %w", cfg.TargetDir, err)
	}

	if cfg.KConfig != "" {
		logger.Info("copying configuration", "source", cfg.KConfig)
		if err := fsutil.CopyFile(cfg.KConfig, filepath.Join(cfg.TargetDir, ".config"), false); err != nil {
			return fmt.Errorf("copy configuration to build directory: %w", err)
		}
	}

	command := joinCommand(
		cfg.Make.Command,
		"-C", cfg.SourceDir,
		cfg.Make.Opts,
		"silentoldconfig",
	)
	if cfg.TargetDir != cfg.SourceDir {
		command = joinCommand(command, "O="+cfg.TargetDir)
	}

	logger.Info("initializing build directory", "target", cfg.TargetDir)
	if err := p.Runner.Run(ctx, command); err != nil {
		return err
	}

	if cfg.Clean {
		logger.Info("cleaning build directory")
		return p.clean(ctx)
	}
	return nil
}

// build compiles the kernel and modules.
func (p *Pipeline) build(ctx context.Context) error {
	cfg := p.Config
	command := joinCommand(
		cfg.Make.Command,
		fmt.Sprintf("-j%d", cfg.Make.Jobs),
		"-C", cfg.TargetDir,
		cfg.Make.Opts,
	)

	p.logger().Info("building kernel and modules", "jobs", cfg.Make.Jobs)
	return p.Runner.Run(ctx, command)
}

// collectOutput copies the built artifacts into a version-named subdirectory
// of the configured output directory.
func (p *Pipeline) collectOutput(ctx context.Context) error {
	cfg := p.Config
	out := cfg.Output
	logger := p.logger()

	version, err := p.kernelVersion(ctx)
	if err != nil {
		return err
	}
	image, err := p.kernelImage()
	if err != nil {
		return err
	}

	outPath := filepath.Join(out.Directory, version)
	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", outPath, err)
	}
	if err := unix.Access(outPath, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("unable to access output directory %s: %w", outPath, err)
	}

	logger.Info("copying kernel image to output directory", "version", version)
	if err := fsutil.CopyFile(image, filepath.Join(outPath, out.ImagePrefix+"-"+version), false); err != nil {
		return fmt.Errorf("copy kernel image to output directory: %w", err)
	}

	if out.Modules {
		logger.Info("copying modules to output directory")
		rotateModuleDir(filepath.Join(outPath, "lib", "modules", version))
		command := joinCommand(
			cfg.Make.Command,
			fmt.Sprintf("-j%d", cfg.Make.Jobs),
			"-C", cfg.TargetDir,
			"modules_install", "INSTALL_MOD_PATH="+outPath,
		)
		if err := p.Runner.Run(ctx, command); err != nil {
			return err
		}
	}

	if out.Headers {
		logger.Info("copying headers to output directory")
		command := joinCommand(
			cfg.Make.Command,
			fmt.Sprintf("-j%d", cfg.Make.Jobs),
			"-C", cfg.TargetDir,
			"headers_install", "INSTALL_HDR_PATH="+outPath,
		)
		if err := p.Runner.Run(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// install places the kernel image into the boot directory under a versioned
// name, optionally maintaining the stable symlink and installing modules.
func (p *Pipeline) install(ctx context.Context) error {
	cfg := p.Config
	spec := cfg.Install
	logger := p.logger()

	version, err := p.kernelVersion(ctx)
	if err != nil {
		return err
	}
	image, err := p.kernelImage()
	if err != nil {
		return err
	}

	imageDest := filepath.Join(spec.BootDir, spec.ImagePrefix+"-"+version)
	logger.Info("installing kernel image", "destination", imageDest)
	if err := fsutil.CopyFile(image, imageDest, spec.KeepOld); err != nil {
		return fmt.Errorf("install kernel image: %w", err)
	}

	if spec.Symlink {
		linkDest := filepath.Join(spec.BootDir, spec.ImagePrefix)
		if err := fsutil.ReplaceSymlink(imageDest, linkDest, spec.KeepOld); err != nil {
			return fmt.Errorf("create symbolic link pointing to new kernel: %w", err)
		}
	}

	if spec.Modules {
		logger.Info("installing modules", "version", version)
		rotateModuleDir(filepath.Join("/", "lib", "modules", version))
		command := joinCommand(
			cfg.Make.Command,
			fmt.Sprintf("-j%d", cfg.Make.Jobs),
			"-C", cfg.TargetDir,
			"modules_install",
		)
		if err := p.Runner.Run(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// installInitrd generates an initramfs into a scratch file under the
// configured tmp directory and installs it next to the kernel image. The
// scratch file is removed when the stage ends, success or not.
func (p *Pipeline) installInitrd(ctx context.Context) error {
	cfg := p.Config
	spec := cfg.Install
	logger := p.logger()

	scratch := filepath.Join(cfg.TmpDir, "linbuild-"+uuid.NewString())
	if err := os.WriteFile(scratch, nil, 0o600); err != nil {
		return fmt.Errorf("create scratch file in %s: %w", cfg.TmpDir, err)
	}
	defer os.Remove(scratch)

	version, err := p.kernelVersion(ctx)
	if err != nil {
		return err
	}

	var command string
	switch spec.InitrdGen {
	case config.InitrdGenDracut:
		logger.Info("generating initramfs using dracut", "version", version)
		command = joinCommand("dracut", "--force", spec.InitrdOpts, scratch, version)
	case config.InitrdGenMkinitramfs:
		logger.Info("generating initramfs using mkinitramfs", "version", version)
		command = joinCommand("mkinitramfs", spec.InitrdOpts, "-o", scratch, version)
	default:
		return fmt.Errorf("unsupported initrd generator %q", spec.InitrdGen)
	}

	if err := p.Runner.Run(ctx, command); err != nil {
		return err
	}

	initrdDest := filepath.Join(spec.BootDir, spec.InitrdPrefix+"-"+version)
	logger.Info("installing initramfs", "destination", initrdDest)
	if err := fsutil.CopyFile(scratch, initrdDest, true); err != nil {
		return fmt.Errorf("install initramfs: %w", err)
	}

	if spec.Symlink {
		linkDest := filepath.Join(spec.BootDir, spec.InitrdPrefix)
		if err := fsutil.ReplaceSymlink(initrdDest, linkDest, spec.KeepOld); err != nil {
			return fmt.Errorf("create symbolic link pointing to new initramfs: %w", err)
		}
	}
	return nil
}

// finalCleanup runs after every pipeline pass, even a failed one. Cleanup
// problems are logged as warnings and swallowed: they never fail a build
// that otherwise succeeded.
func (p *Pipeline) finalCleanup(ctx context.Context) error {
	cfg := p.Config
	logger := p.logger()

	if !cfg.PostClean {
		return nil
	}

	if cfg.PostNuke && cfg.SplitBuild {
		logger.Info("removing build directory", "target", cfg.TargetDir)
		if err := os.RemoveAll(cfg.TargetDir); err != nil {
			logger.Warn("unable to delete build directory", "error", err)
		}
		return nil
	}

	if err := p.clean(ctx); err != nil {
		logger.Warn("cleaning build directory failed", "error", err)
	}
	return nil
}

// clean runs the build tool's clean target against the target directory.
func (p *Pipeline) clean(ctx context.Context) error {
	command := joinCommand(p.Config.Make.Command, "-C", p.Config.TargetDir, "clean")
	return p.Runner.Run(ctx, command)
}

// rotateModuleDir moves an existing module directory aside as a single
// ".old" generation before modules_install repopulates it. Best-effort: a
// directory that does not exist yet is not an error.
func rotateModuleDir(path string) {
	backup := path + fsutil.BackupSuffix
	if err := os.RemoveAll(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return
	}
	_ = os.Rename(path, backup)
}
