// Package renderer evaluates scriggo templates against job bindings.
package renderer

import (
	"bytes"
	"context"
	"go/token"
	"io"
	"io/fs"
	"os"

	"github.com/open2b/scriggo"
	"github.com/open2b/scriggo/native"
	"github.com/yuin/goldmark"

	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

// Engine builds templates from a directory tree. The engine holds no
// per-job state and may be shared by concurrent jobs.
type Engine struct {
	fsys          fs.FS
	templatesPath string
	assetsPath    string
	markdown      goldmark.Markdown
	log           *logger.Logger
}

// New returns an engine reading templates from templatesPath. assetsPath is
// only exposed to templates as __assets_path.
func New(templatesPath, assetsPath string, log *logger.Logger) *Engine {
	return NewFS(os.DirFS(templatesPath), templatesPath, assetsPath, log)
}

// NewFS is New with an explicit file system.
func NewFS(fsys fs.FS, templatesPath, assetsPath string, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		fsys:          fsys,
		templatesPath: templatesPath,
		assetsPath:    assetsPath,
		markdown:      goldmark.New(),
		log:           log.WithComponent("renderer"),
	}
}

// TemplatesPath returns the directory templates are read from.
func (e *Engine) TemplatesPath() string { return e.templatesPath }

// Render builds the named template and runs it with bindings as globals.
func (e *Engine) Render(ctx context.Context, template models.TemplateRef, bindings models.Bindings) (string, error) {
	name := string(template)
	if !fs.ValidPath(name) {
		return "", errors.Newf(errors.CodeTemplateNotFound, "invalid template path %q", name).
			WithField("template", name)
	}

	opts := &scriggo.BuildOptions{
		Globals: e.declarations(ctx, bindings),
		MarkdownConverter: func(src []byte, out io.Writer) error {
			return e.markdown.Convert(src, out)
		},
	}

	tmpl, err := scriggo.BuildTemplate(e.fsys, name, opts)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errors.WrapWithCode(err, errors.CodeTemplateNotFound, "renderer.build", "template not found").
				WithField("template", name)
		}
		return "", errors.WrapWithCode(err, errors.CodeTemplateEvaluation, "renderer.build", "cannot build template").
			WithField("template", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Run(&buf, nil, &scriggo.RunOptions{Context: ctx}); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeTemplateEvaluation, "renderer.run", "cannot render template").
			WithField("template", name)
	}
	return buf.String(), nil
}

func (e *Engine) declarations(ctx context.Context, bindings models.Bindings) native.Declarations {
	decl := native.Declarations{
		"__templates_path": native.UntypedStringConst(e.templatesPath),
		"__assets_path":    native.UntypedStringConst(e.assetsPath),
		"currency_format":  currencyFormat,
		"split":            split,
		"context_escape":   contextEscape,
	}
	for _, name := range bindings.Keys() {
		if _, reserved := decl[name]; reserved || !token.IsIdentifier(name) {
			e.log.FromContext(ctx).Debug("binding not addressable from templates", "key", name)
			continue
		}
		decl[name] = variable(bindings[name])
	}
	return decl
}

// variable returns a pointer to a Go value of the binding's natural type,
// which is how scriggo declares global variables.
func variable(v models.Value) any {
	switch x := v.(type) {
	case models.Null:
		var p any
		return &p
	case models.Bool:
		b := bool(x)
		return &b
	case models.Int:
		i := int(x)
		return &i
	case models.Float:
		f := float64(x)
		return &f
	case models.String:
		s := string(x)
		return &s
	case models.List:
		l := models.Native(x).([]any)
		return &l
	case models.Map:
		m := models.Native(x).(map[string]any)
		return &m
	default:
		var p any
		return &p
	}
}
