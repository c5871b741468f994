package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

// StdioPath is the path that stands for the process's standard input (as
// an input) or standard output (as an output).
const StdioPath = "-"

// FileRef points at a local file or a URL.
type FileRef struct {
	Path string
	URL  *url.URL
}

// ParseFileRef treats s as a URL when it parses as an absolute URL and as a
// path otherwise. Single-letter schemes are Windows drive letters, not URLs.
func ParseFileRef(s string) FileRef {
	if u, err := url.Parse(s); err == nil && u.IsAbs() && len(u.Scheme) > 1 {
		return FileRef{URL: u}
	}
	return FileRef{Path: s}
}

func FileRefFromPath(path string) FileRef { return FileRef{Path: path} }

func FileRefFromURL(u *url.URL) FileRef { return FileRef{URL: u} }

func (f FileRef) IsURL() bool { return f.URL != nil }

// IsStdio reports whether f is the standard stream sentinel.
func (f FileRef) IsStdio() bool { return f.URL == nil && f.Path == StdioPath }

func (f FileRef) String() string {
	if f.URL != nil {
		return f.URL.String()
	}
	return f.Path
}

func (f FileRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *FileRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("file reference must be a string: %w", err)
	}
	if s == "" {
		return fmt.Errorf("file reference must not be empty")
	}
	*f = ParseFileRef(s)
	return nil
}

// Input is either a FileRef or inline data. Exactly one of Ref and Data is set.
type Input struct {
	Ref  *FileRef
	Data Bindings
}

func InputFromRef(ref FileRef) Input { return Input{Ref: &ref} }

func InputFromData(data Bindings) Input {
	if data == nil {
		data = Bindings{}
	}
	return Input{Data: data}
}

func (i Input) IsInline() bool { return i.Ref == nil }

// Source names the input for diagnostics.
func (i Input) Source() string {
	if i.Ref != nil {
		return i.Ref.String()
	}
	return "inline data"
}

func (i Input) MarshalJSON() ([]byte, error) {
	if i.Ref != nil {
		return json.Marshal(i.Ref)
	}
	return json.Marshal(i.Data)
}

func (i *Input) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var ref FileRef
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return err
		}
		*i = InputFromRef(ref)
		return nil
	}
	var b Bindings
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return fmt.Errorf("input must be a file reference or an object: %w", err)
	}
	*i = InputFromData(b)
	return nil
}

// OutputKind selects where a rendered artifact goes.
type OutputKind int

const (
	OutputToBuffer OutputKind = iota
	OutputToFile
	OutputToURL
)

func (k OutputKind) String() string {
	switch k {
	case OutputToFile:
		return "file"
	case OutputToURL:
		return "url"
	default:
		return "buffer"
	}
}

// OutputRef is the destination of a job.
type OutputRef struct {
	Kind OutputKind
	Path string
	URL  *url.URL
}

func ToBuffer() OutputRef { return OutputRef{Kind: OutputToBuffer} }

func ToFile(path string) OutputRef { return OutputRef{Kind: OutputToFile, Path: path} }

func ToURL(u *url.URL) OutputRef { return OutputRef{Kind: OutputToURL, URL: u} }

// ParseOutputRef maps a destination string onto ToFile or ToURL.
func ParseOutputRef(s string) OutputRef {
	ref := ParseFileRef(s)
	if ref.IsURL() {
		return ToURL(ref.URL)
	}
	return ToFile(ref.Path)
}

// IsStdio reports whether o writes to standard output.
func (o OutputRef) IsStdio() bool { return o.Kind == OutputToFile && o.Path == StdioPath }

// WritesLocalFile reports whether o targets a real filesystem path. This is
// the only destination the file-output policy restricts.
func (o OutputRef) WritesLocalFile() bool { return o.Kind == OutputToFile && o.Path != StdioPath }

func (o OutputRef) String() string {
	switch o.Kind {
	case OutputToFile:
		return o.Path
	case OutputToURL:
		return o.URL.String()
	default:
		return "buffer"
	}
}

func (o OutputRef) MarshalJSON() ([]byte, error) {
	if o.Kind == OutputToBuffer {
		return []byte("null"), nil
	}
	return json.Marshal(o.String())
}

func (o *OutputRef) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*o = ToBuffer()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("output must be a string or null: %w", err)
	}
	if s == "" {
		*o = ToBuffer()
		return nil
	}
	*o = ParseOutputRef(s)
	return nil
}

// TemplateRef identifies a template relative to the templates directory.
type TemplateRef string

var compileExtensions = map[string]bool{
	"tex":  true,
	"mkiv": true,
}

// Looked up before the platform MIME table, which differs between hosts.
var mimeTypes = map[string]string{
	"txt":      "text/plain",
	"tex":      "application/x-tex",
	"html":     "text/html",
	"htm":      "text/html",
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"csv":      "text/csv",
	"json":     "application/json",
	"xml":      "text/xml",
	"svg":      "image/svg+xml",
	"yaml":     "application/yaml",
	"yml":      "application/yaml",
	"pdf":      "application/pdf",
	"css":      "text/css",
	"js":       "text/javascript",
}

const defaultMimeType = "text/plain"

// Extension returns the file extension without the leading dot.
func (t TemplateRef) Extension() string {
	return strings.TrimPrefix(filepath.Ext(string(t)), ".")
}

// ShouldCompile reports whether the rendered template has to go through
// the document compiler.
func (t TemplateRef) ShouldCompile() bool {
	return compileExtensions[t.Extension()]
}

// MimeType guesses the media type from the template's extension.
func (t TemplateRef) MimeType() string {
	ext := t.Extension()
	if ext == "" {
		return defaultMimeType
	}
	if m, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return m
	}
	if m := mime.TypeByExtension("." + ext); m != "" {
		if essence, _, err := mime.ParseMediaType(m); err == nil {
			return essence
		}
	}
	return defaultMimeType
}

// FileName returns the base name used for the rendered file inside a work
// directory. Directory components never leave the template reference.
func (t TemplateRef) FileName() (string, error) {
	name := filepath.Base(filepath.FromSlash(string(t)))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("template %q has no file name", string(t))
	}
	return name, nil
}

func (t TemplateRef) String() string { return string(t) }

// RenderJob describes one rendering request.
type RenderJob struct {
	Template TemplateRef `json:"template"`
	Inputs   []Input     `json:"inputs"`
	Output   OutputRef   `json:"output"`
}

// renderJobJSON accepts "data" as an inline input merged before "inputs".
type renderJobJSON struct {
	Template TemplateRef `json:"template"`
	Data     Bindings    `json:"data,omitempty"`
	Inputs   []Input     `json:"inputs,omitempty"`
	Output   OutputRef   `json:"output"`
}

func (j *RenderJob) UnmarshalJSON(data []byte) error {
	aux := renderJobJSON{Output: ToBuffer()}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}
	inputs := make([]Input, 0, len(aux.Inputs)+1)
	if aux.Data != nil {
		inputs = append(inputs, InputFromData(aux.Data))
	}
	inputs = append(inputs, aux.Inputs...)
	*j = RenderJob{Template: aux.Template, Inputs: inputs, Output: aux.Output}
	return nil
}

func (j RenderJob) MarshalJSON() ([]byte, error) {
	return json.Marshal(renderJobJSON{Template: j.Template, Inputs: j.Inputs, Output: j.Output})
}

// Validate checks the fields that decoding alone cannot enforce.
func (j RenderJob) Validate() error {
	if strings.TrimSpace(string(j.Template)) == "" {
		return fmt.Errorf("template is required")
	}
	if _, err := j.Template.FileName(); err != nil {
		return err
	}
	for idx, in := range j.Inputs {
		if in.Ref == nil && in.Data == nil {
			return fmt.Errorf("inputs[%d] is empty", idx)
		}
	}
	if j.Output.Kind == OutputToFile && j.Output.Path == "" {
		return fmt.Errorf("output path is empty")
	}
	return nil
}

// OutputBuffer is the payload returned for ToBuffer destinations.
type OutputBuffer struct {
	Buffer   []byte
	Filename string
	MimeType string
}

// JobState is a step of the job lifecycle.
type JobState string

const (
	StateCreated          JobState = "created"
	StateTemplateRendered JobState = "template_rendered"
	StateCompiled         JobState = "compiled"
	StateDispatched       JobState = "dispatched"
	StateFailed           JobState = "failed"
)

// Terminal reports whether no transition leaves s.
func (s JobState) Terminal() bool {
	return s == StateDispatched || s == StateFailed
}

// DecodeJSONBindings parses a JSON document into Bindings.
func DecodeJSONBindings(r io.Reader) (Bindings, error) {
	var raw any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return ParseBindings(raw)
}

func decodeJSONNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
