// Package build implements the kernel build pipeline: an ordered sequence
// of stages driven by the configuration record, each invoking external
// tools and placing artifacts with backup-preserving file operations.
package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/linbuild/linbuild/internal/config"
	"github.com/linbuild/linbuild/internal/executil"
	"github.com/linbuild/linbuild/internal/logging"
)

// Stage names, in pipeline order.
const (
	StagePrepare       = "prepare"
	StageBuild         = "build"
	StageCollectOutput = "collect-output"
	StageInstall       = "install"
	StageInstallInitrd = "install-initrd"
	StageFinalCleanup  = "final-cleanup"
)

// Stage is a single pipeline step.
type Stage struct {
	Name string
	run  func(ctx context.Context) error
}

// Pipeline executes the build stages for one configuration record. The
// record is read-only shared state; the pipeline never mutates it.
type Pipeline struct {
	Config *config.Config
	Runner *executil.Runner
	Logger *slog.Logger
}

// New constructs a pipeline for the given configuration. The runner carries
// the configured scratch directory in its environment overlay so child
// processes see it without any process-global mutation.
func New(cfg *config.Config, logger *slog.Logger) *Pipeline {
	logger = logging.Ensure(logger)
	return &Pipeline{
		Config: cfg,
		Logger: logger,
		Runner: &executil.Runner{
			Verbose: cfg.Verbose,
			Env:     []string{"TMPDIR=" + cfg.TmpDir},
			Logger:  logger.With("component", "exec"),
		},
	}
}

// Stages assembles the ordered stage list for the configuration: prepare and
// build always run, collect-output only with an output section, install only
// with an install section, install-initrd only when an initramfs generator
// is configured, and final-cleanup is always last.
func (p *Pipeline) Stages() []Stage {
	stages := []Stage{
		{Name: StagePrepare, run: p.prepare},
		{Name: StageBuild, run: p.build},
	}
	if p.Config.Output != nil {
		stages = append(stages, Stage{Name: StageCollectOutput, run: p.collectOutput})
	}
	if p.Config.Install != nil {
		stages = append(stages, Stage{Name: StageInstall, run: p.install})
		if p.Config.Install.InitrdGen != "" {
			stages = append(stages, Stage{Name: StageInstallInitrd, run: p.installInitrd})
		}
	}
	stages = append(stages, Stage{Name: StageFinalCleanup, run: p.finalCleanup})
	return stages
}

// Run executes the stages in order. The first stage error halts the rest of
// the pipeline, except final-cleanup, which still runs when requested so a
// failed build does not leave a dirty tree behind. Cleanup itself never
// contributes an error.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := p.logger()

	var failure error
	for _, stage := range p.Stages() {
		if failure != nil && stage.Name != StageFinalCleanup {
			continue
		}

		logger.Debug("running stage", "stage", stage.Name)
		if err := stage.run(ctx); err != nil {
			logger.Error("stage failed", "stage", stage.Name, "error", err)
			failure = fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}
	return failure
}

func (p *Pipeline) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}
