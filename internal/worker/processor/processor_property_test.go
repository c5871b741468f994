package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

func propertyParams() *gopter.TestParameters {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	return params
}

func TestFileOutputPolicyProperty(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")
	var calls atomic.Int32
	s := New(Deps{
		Evaluator: helloEvaluator(&calls),
		TempRoot:  root,
		Log:       logger.Discard(),
	})

	properties := gopter.NewProperties(propertyParams())
	properties.Property("file destinations are refused before any work", prop.ForAll(
		func(name string) bool {
			_, err := s.ProcessJob(context.Background(), models.RenderJob{
				Template: "hello.txt",
				Output:   models.ToFile("/tmp/" + name),
			})
			if !errors.IsCode(err, errors.CodeOutputNotAllowed) {
				return false
			}
			if calls.Load() != 0 {
				return false
			}
			_, statErr := os.Stat(root)
			return os.IsNotExist(statErr)
		},
		gen.RegexMatch(`^[a-z][a-z0-9_]{0,11}(\.(txt|pdf|tex))?$`),
	))
	properties.TestingRun(t)
}

func TestWorkDirCleanupProperty(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")

	properties := gopter.NewProperties(propertyParams())
	properties.Property("no files remain after a job", prop.ForAll(
		func(failAt int, name string) bool {
			eval := EvaluatorFunc(func(context.Context, models.TemplateRef, models.Bindings) (string, error) {
				if failAt == 1 {
					return "", fmt.Errorf("evaluation failed")
				}
				return "Hello, " + name, nil
			})
			d := Deps{Evaluator: eval, TempRoot: root, Log: logger.Discard()}
			inputs := []models.Input{models.InputFromData(models.Bindings{"name": models.String(name)})}
			if failAt == 0 {
				inputs = append(inputs, models.InputFromRef(models.FileRefFromPath(filepath.Join(root, "missing.json"))))
			}

			_, _ = New(d).ProcessJob(context.Background(), models.RenderJob{
				Template: "hello.txt",
				Inputs:   inputs,
			})

			entries, err := os.ReadDir(root)
			return err == nil && len(entries) == 0
		},
		gen.IntRange(0, 2),
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}
