package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

// CUEParser loads configuration files, unifies them with the built-in schema
// and validates the result.
type CUEParser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &CUEParser{
		ctx:       ctx,
		schema:    schema,
		validator: validator.New(),
	}, nil
}

// Default returns the configuration produced by an empty file.
func (cp *CUEParser) Default() (*Config, error) {
	return cp.ParseInline("")
}

// Parse loads and unifies the given files and directories. Later sources
// must agree with earlier ones; CUE reports conflicting values as errors.
func (cp *CUEParser) Parse(sources ...string) (*Config, error) {
	if len(sources) == 0 {
		return cp.Default()
	}

	files, err := expandSources(sources)
	if err != nil {
		return nil, err
	}

	value := cp.schema
	var problems ValidationErrors
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		val := cp.ctx.CompileBytes(content, cue.Filename(file))
		if err := val.Err(); err != nil {
			problems = append(problems, convertCUEErrors(err)...)
			continue
		}
		value = value.Unify(val)
	}
	if len(problems) > 0 {
		return nil, problems
	}

	return cp.decode(value)
}

// ParseInline parses configuration from a string.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return nil, ValidationErrors(convertCUEErrors(err))
	}
	return cp.decode(cp.schema.Unify(val))
}

func (cp *CUEParser) decode(value cue.Value) (*Config, error) {
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, ValidationErrors(convertCUEErrors(err))
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cp.validator.Struct(&cfg); err != nil {
		return nil, convertValidatorErrors(err)
	}

	return &cfg, nil
}

// ExportJSON renders cfg as indented JSON.
func (cp *CUEParser) ExportJSON(cfg *Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// expandSources turns directories into their sorted .cue files.
func expandSources(sources []string) ([]string, error) {
	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		var dirFiles []string
		err = filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".cue") {
				dirFiles = append(dirFiles, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", strings.Join(sources, ", "))
	}
	return files, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	return out
}

func convertValidatorErrors(err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return fmt.Errorf("validation failed: %w", err)
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q constraint (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{Path: fe.Namespace(), Message: msg})
	}
	return out
}
