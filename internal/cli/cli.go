// Package cli implements the templater command line.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"templater/internal/bootstrap"
	"templater/internal/config"
	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/watcher"
)

const (
	flagTemplate      = "template"
	flagTemplatesPath = "templates-path"
	flagAssetsPath    = "assets-path"
	flagInput         = "input"
	flagOutput        = "output"
	flagVerbosity     = "verbosity"
	flagLogLevel      = "log-level"
	flagWatch         = "watch"
)

type options struct {
	template  string
	inputs    []string
	output    string
	verbosity int
	watch     bool
}

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// NewCommand builds the root command. Errors are returned, not printed.
func NewCommand(streams Streams) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "templater",
		Short: "Render structured data through a template into a text or PDF document",
		Long: `templater merges JSON/YAML inputs, renders them through a template and
delivers the result to a file, standard output or an upload URL. Templates
ending in .tex or .mkiv are compiled to PDF with ConTeXt.`,
		Example: `  templater -t templates/invoice.tex -i order.json -i defaults.yaml -o invoice.pdf
  cat data.json | templater -t letter.txt -i - -o -`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, streams)
		},
	}

	flags := cmd.Flags()
	flags.SetNormalizeFunc(normalizeFlag)
	flags.StringVarP(&opts.template, flagTemplate, "t", "", "template file; its directory is the default templates path")
	flags.String(flagTemplatesPath, "", "directory templates are looked up in")
	flags.String(flagAssetsPath, "", "assets directory exposed to templates")
	flags.StringArrayVarP(&opts.inputs, flagInput, "i", nil, "input file, URL or - for stdin; repeat to merge, later inputs win")
	flags.StringVarP(&opts.output, flagOutput, "o", "", "output file, upload URL or - for stdout")
	flags.CountVarP(&opts.verbosity, flagVerbosity, "v", "increase log verbosity (-v info, -vv debug)")
	flags.String(flagLogLevel, "", "explicit log level, overrides -v")
	flags.BoolVar(&opts.watch, flagWatch, false, "re-render whenever the templates or a local input change")
	_ = cmd.MarkFlagRequired(flagTemplate)
	_ = cmd.MarkFlagRequired(flagOutput)

	return cmd
}

// normalizeFlag accepts --inputs as a spelling of --input.
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if name == "inputs" {
		name = flagInput
	}
	return pflag.NormalizedName(name)
}

func run(cmd *cobra.Command, opts *options, streams Streams) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v, err := config.New()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup(flagLogLevel))

	level := logger.LevelFromVerbosity(opts.verbosity)
	if flags.Changed(flagLogLevel) {
		level = v.GetString(config.KeyLogLevel)
	}
	log := logger.New(logger.Config{Level: level, Format: "text", Output: streams.Err})

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	paths, err := resolvePaths(opts.template, flagValue(flags, flagTemplatesPath), flagValue(flags, flagAssetsPath), cfg)
	if err != nil {
		return err
	}
	cfg.TemplatesPath = paths.templates
	cfg.AssetsPath = paths.assets
	// Whoever runs the CLI already owns the filesystem.
	cfg.MayOutputToFile = true

	log.Debug("running with",
		"templates_path", paths.templates,
		"assets_path", paths.assets,
		"template", paths.name,
	)

	job := models.RenderJob{
		Template: models.TemplateRef(paths.name),
		Output:   models.ParseOutputRef(opts.output),
	}
	for _, in := range opts.inputs {
		job.Inputs = append(job.Inputs, models.InputFromRef(models.ParseFileRef(in)))
	}

	if opts.watch {
		for _, in := range job.Inputs {
			if in.Ref.IsStdio() {
				return errors.ValidationField(flagInput, "standard input cannot be re-read in watch mode")
			}
		}
	}

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{Stdin: streams.In, Stdout: streams.Out}, log)
	if err != nil {
		return err
	}

	render := func(ctx context.Context) error {
		if _, err := pipeline.State.ProcessJob(ctx, job); err != nil {
			return errors.Wrap(err, "cli.run", "could not run job")
		}
		return nil
	}

	if !opts.watch {
		return render(ctx)
	}
	return watch(ctx, job, paths, render, log)
}

func flagValue(flags *pflag.FlagSet, name string) string {
	if !flags.Changed(name) {
		return ""
	}
	value, _ := flags.GetString(name)
	return value
}

type resolvedPaths struct {
	name      string
	templates string
	assets    string
}

// resolvePaths derives the template name and search paths from the
// template argument. Explicit flags win, then the template's own directory
// (assets next to it in ../assets), then the configured defaults.
func resolvePaths(template, templatesFlag, assetsFlag string, cfg *config.Config) (resolvedPaths, error) {
	name := template
	if i := strings.LastIndex(template, "/"); i >= 0 {
		name = template[i+1:]
	}
	if name == "" {
		return resolvedPaths{}, errors.ValidationField(flagTemplate, "template must name a file")
	}

	var templateDir string
	if resolved, err := canonical(template); err == nil {
		templateDir = filepath.Dir(resolved)
	}

	templates := templatesFlag
	if templates == "" {
		templates = templateDir
	}
	if templates == "" {
		templates = cfg.TemplatesPath
	}

	assets := assetsFlag
	if assets == "" && templateDir != "" {
		assets = filepath.Join(filepath.Dir(templateDir), "assets")
	}
	if assets == "" {
		assets = cfg.AssetsPath
	}
	realAssets, err := canonical(assets)
	if err != nil {
		return resolvedPaths{}, errors.Wrap(err, "cli.paths", "cannot resolve assets path").WithField("path", assets)
	}

	return resolvedPaths{name: name, templates: templates, assets: realAssets}, nil
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// watch renders once and then again after every change to the templates
// or a local input, until ctx ends.
func watch(ctx context.Context, job models.RenderJob, paths resolvedPaths, render func(context.Context) error, log *logger.Logger) error {
	w, err := watcher.New(watcher.DefaultDelay, log)
	if err != nil {
		return err
	}
	if err := w.AddRecursive(paths.templates); err != nil {
		_ = w.Close()
		return err
	}
	for _, in := range job.Inputs {
		if in.Ref == nil || in.Ref.IsURL() {
			continue
		}
		if err := w.AddFile(in.Ref.Path); err != nil {
			_ = w.Close()
			return err
		}
	}

	if err := render(ctx); err != nil {
		log.Error("render failed", "error", err.Error())
	} else {
		log.Info("rendered", "output", job.Output.String())
	}

	log.Info("watching for changes", "templates_path", paths.templates)
	return w.Run(ctx, func(ctx context.Context, changed []string) error {
		log.Info("change detected, re-rendering", "paths", changed)
		if err := render(ctx); err != nil {
			return err
		}
		log.Info("rendered", "output", job.Output.String())
		return nil
	})
}

// Main runs the command and returns the process exit code, printing the
// whole error chain on failure.
func Main(ctx context.Context, args []string, streams Streams) int {
	cmd := NewCommand(streams)
	cmd.SetArgs(args)
	cmd.SetIn(streams.In)
	cmd.SetOut(streams.Out)
	cmd.SetErr(streams.Err)

	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = io.WriteString(streams.Err, "Error: "+err.Error()+"\n")
		return 1
	}
	return 0
}

// DefaultStreams are the process's real standard streams.
func DefaultStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}
