package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ev-pipeline/internal/ddl"
	"ev-pipeline/internal/domain"
)

// Pipeline is the YAML definition of one ingestion: where rows come from,
// how they are typed and validated, where they land and which reports are
// derived from them.
type Pipeline struct {
	Name         string           `yaml:"name"`
	Source       SourceConfig     `yaml:"source"`
	Schema       []ColumnConfig   `yaml:"schema"`
	Destinations DestinationsSpec `yaml:"destinations"`
	ErrorField   string           `yaml:"error_field,omitempty"`
	Splitters    []SplitterConfig `yaml:"splitters,omitempty"`
	Reports      []ReportConfig   `yaml:"reports,omitempty"`
	OutputDir    string           `yaml:"output_dir,omitempty"`
	Schedule     string           `yaml:"schedule,omitempty"`
}

// SourceConfig points at the input CSV file.
type SourceConfig struct {
	Path      string            `yaml:"path"`
	Delimiter string            `yaml:"delimiter,omitempty"`
	Rename    map[string]string `yaml:"rename,omitempty"`
}

// ColumnConfig declares one typed column of the clean destination.
type ColumnConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// DestinationsSpec names the clean and faulty tables.
type DestinationsSpec struct {
	Clean        string `yaml:"clean"`
	Faulty       string `yaml:"faulty"`
	DropIfExists *bool  `yaml:"drop_if_exists,omitempty"`
}

// SplitterConfig declares a coordinate split.
type SplitterConfig struct {
	Source     string `yaml:"source"`
	Lat        string `yaml:"lat"`
	Long       string `yaml:"long"`
	Separator  string `yaml:"separator,omitempty"`
	DropSource bool   `yaml:"drop_source,omitempty"`
}

// ReportConfig declares one derived output file.
type ReportConfig struct {
	Name          string   `yaml:"name"`
	GroupBy       []string `yaml:"group_by"`
	RankPartition []string `yaml:"rank_partition,omitempty"`
	Rank          bool     `yaml:"rank,omitempty"`
	Top           int      `yaml:"top,omitempty"`
	OrderBy       []string `yaml:"order_by,omitempty"`
	Format        string   `yaml:"format,omitempty"`
	PartitionBy   []string `yaml:"partition_by,omitempty"`
}

// Ranked reports whether the report needs a rank column.
func (r ReportConfig) Ranked() bool {
	return r.Rank || r.Top > 0 || len(r.RankPartition) > 0
}

// LoadPipeline reads and validates a pipeline definition.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read pipeline: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes YAML, applies defaults and validates the result.
// Unknown keys are rejected.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	p.applyDefaults()
	if err := ValidatePipeline(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pipeline) applyDefaults() {
	if p.ErrorField == "" {
		p.ErrorField = domain.DefaultErrorField
	}
	if p.OutputDir == "" {
		p.OutputDir = "output"
	}
	if p.Destinations.DropIfExists == nil {
		t := true
		p.Destinations.DropIfExists = &t
	}
	for i := range p.Reports {
		if p.Reports[i].Format == "" {
			p.Reports[i].Format = ddl.FormatCSV
		}
	}
}

// ValidatePipeline checks a pipeline definition and returns every problem
// found, joined, as a *domain.ValidationError.
func ValidatePipeline(p *Pipeline) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if p.Source.Path == "" {
		add("source.path is required")
	}
	if len(p.Source.Delimiter) > 1 {
		add("source.delimiter must be a single character")
	}

	if len(p.Schema) == 0 {
		add("schema must declare at least one column")
	}
	seen := map[string]bool{}
	for i, c := range p.Schema {
		if err := ddl.ValidateIdentifier(c.Name); err != nil {
			add("schema[%d]: column %q: %v", i, c.Name, err)
		}
		if seen[c.Name] {
			add("schema[%d]: duplicate column %q", i, c.Name)
		}
		seen[c.Name] = true
		if _, err := domain.ParseColumnType(c.Type); err != nil {
			add("schema[%d]: %v", i, err)
		}
	}
	if seen[p.ErrorField] {
		add("error_field %q collides with a schema column", p.ErrorField)
	}
	if err := ddl.ValidateIdentifier(p.ErrorField); err != nil {
		add("error_field: %v", err)
	}

	if _, err := ddl.QualifiedName(p.Destinations.Clean); err != nil {
		add("destinations.clean: %v", err)
	}
	if _, err := ddl.QualifiedName(p.Destinations.Faulty); err != nil {
		add("destinations.faulty: %v", err)
	}
	if p.Destinations.Clean != "" && p.Destinations.Clean == p.Destinations.Faulty {
		add("destinations.clean and destinations.faulty must differ")
	}

	for i, s := range p.Splitters {
		if s.Source == "" || s.Lat == "" || s.Long == "" {
			add("splitters[%d]: source, lat and long are required", i)
			continue
		}
		for _, col := range []string{s.Lat, s.Long} {
			c, ok := lookupColumn(p.Schema, col)
			if !ok {
				add("splitters[%d]: output column %q is not in the schema", i, col)
				continue
			}
			if t, err := domain.ParseColumnType(c.Type); err == nil && !t.IsFloat() {
				add("splitters[%d]: output column %q must be FLOAT or DOUBLE, got %s", i, col, t)
			}
		}
		if s.DropSource && seen[s.Source] {
			add("splitters[%d]: drop_source is set but %q is a schema column", i, s.Source)
		}
	}

	names := map[string]bool{}
	for i, r := range p.Reports {
		if err := ddl.ValidateIdentifier(r.Name); err != nil {
			add("reports[%d]: name %q: %v", i, r.Name, err)
		}
		if names[r.Name] {
			add("reports[%d]: duplicate report name %q", i, r.Name)
		}
		names[r.Name] = true
		if len(r.GroupBy) == 0 {
			add("reports[%d]: group_by must name at least one column", i)
		}
		for _, col := range append(append([]string{}, r.GroupBy...), r.RankPartition...) {
			if !seen[col] {
				add("reports[%d]: column %q is not in the schema", i, col)
			}
		}
		if r.Top < 0 {
			add("reports[%d]: top must not be negative", i)
		}
		switch strings.ToLower(r.Format) {
		case ddl.FormatCSV, ddl.FormatParquet:
		default:
			add("reports[%d]: unsupported format %q", i, r.Format)
		}
		for _, col := range r.PartitionBy {
			if !containsFold(r.GroupBy, col) {
				add("reports[%d]: partition_by column %q must be grouped", i, col)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return domain.ErrValidation("invalid pipeline: %s", strings.Join(problems, "; "))
}

// DomainSchema converts the declared schema. It assumes ValidatePipeline passed.
func (p *Pipeline) DomainSchema() (domain.Schema, error) {
	out := make(domain.Schema, 0, len(p.Schema))
	for _, c := range p.Schema {
		t, err := domain.ParseColumnType(c.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Column{Name: c.Name, Type: t})
	}
	return out, nil
}

// DropIfExists reports whether destinations are recreated on every run.
func (p *Pipeline) DropIfExists() bool {
	return p.Destinations.DropIfExists == nil || *p.Destinations.DropIfExists
}

// Report looks a report up by name.
func (p *Pipeline) Report(name string) (ReportConfig, error) {
	for _, r := range p.Reports {
		if r.Name == name {
			return r, nil
		}
	}
	return ReportConfig{}, domain.ErrNotFound("report %q not found", name)
}

func lookupColumn(cols []ColumnConfig, name string) (ColumnConfig, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnConfig{}, false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
