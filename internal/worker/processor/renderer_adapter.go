package processor

import (
	"context"
	"os"

	"templater/internal/models"
	"templater/internal/pkg/errors"
)

// Evaluator turns a template and its bindings into text.
type Evaluator interface {
	Render(ctx context.Context, template models.TemplateRef, bindings models.Bindings) (string, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, template models.TemplateRef, bindings models.Bindings) (string, error)

func (f EvaluatorFunc) Render(ctx context.Context, template models.TemplateRef, bindings models.Bindings) (string, error) {
	return f(ctx, template, bindings)
}

// Compiler turns a rendered source inside workDir into its compiled form
// and returns the compiled file's path.
type Compiler interface {
	Compile(ctx context.Context, sourcePath, workDir string) (string, error)
}

// writeTemplate evaluates the job's template and stores the text in dir
// under the template's base name.
func (s *State) writeTemplate(ctx context.Context, dir *WorkDir, template models.TemplateRef, bindings models.Bindings) (string, error) {
	name, err := template.FileName()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeValidation, "processor.template", "invalid template name")
	}

	text, err := s.evaluator.Render(ctx, template, bindings)
	if err != nil {
		return "", stageError(err, errors.CodeTemplateEvaluation, "processor.render", "could not render template").
			WithField("template", template.String())
	}

	path := dir.Join(name)
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", errors.Wrap(err, "processor.render", "could not write rendered template")
	}
	return path, nil
}

func (s *State) compile(ctx context.Context, dir *WorkDir, source string) (string, error) {
	if s.compiler == nil {
		return "", errors.New(errors.CodeCompilationFailed, "no compiler configured")
	}
	out, err := s.compiler.Compile(ctx, source, dir.Path())
	if err != nil {
		return "", stageError(err, errors.CodeCompilationFailed, "processor.compile", "could not compile pdf")
	}
	return out, nil
}
