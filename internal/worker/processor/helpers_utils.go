package processor

import (
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"templater/internal/models"
	"templater/internal/pkg/errors"
)

// stageError wraps err for the pipeline step op. Errors that already carry
// a code keep it; anything else gets code.
func stageError(err error, code errors.Code, op, message string) *errors.Error {
	var coded *errors.Error
	if errors.As(err, &coded) {
		return errors.Wrap(err, op, message)
	}
	return errors.WrapWithCode(err, code, op, message)
}

type inputFormat string

const (
	formatJSON inputFormat = "json"
	formatYAML inputFormat = "yaml"
)

// formatFromExtension maps a local input file to its decoder. Extensions
// are matched exactly.
func formatFromExtension(path string) (inputFormat, bool) {
	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case "json":
		return formatJSON, true
	case "yaml", "yml":
		return formatYAML, true
	default:
		return "", false
	}
}

// formatFromContentType maps a response Content-Type to its decoder. A
// missing or malformed header is read as JSON.
func formatFromContentType(header string) (inputFormat, bool) {
	if strings.TrimSpace(header) == "" {
		return formatJSON, true
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return formatJSON, true
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return formatJSON, true
	case mediaType == "application/yaml",
		mediaType == "application/x-yaml",
		mediaType == "text/yaml",
		mediaType == "text/x-yaml",
		strings.HasSuffix(mediaType, "+yaml"):
		return formatYAML, true
	default:
		return "", false
	}
}

func decodeBindings(format inputFormat, r io.Reader) (models.Bindings, error) {
	switch format {
	case formatJSON:
		return models.DecodeJSONBindings(r)
	case formatYAML:
		var doc any
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("empty yaml document")
			}
			return nil, err
		}
		return models.ParseBindings(doc)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}
