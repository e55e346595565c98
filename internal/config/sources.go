package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/wellnesswire/internal/model"
)

// SourceEntry はソースレジストリYAMLの1エントリ。
type SourceEntry struct {
	Name            string   `yaml:"name"`
	URL             string   `yaml:"url"`
	Type            string   `yaml:"type"`
	Active          *bool    `yaml:"active"`
	DefaultCategory string   `yaml:"default_category"`
	Cadence         string   `yaml:"cadence"`
	QualityWeight   *float64 `yaml:"quality_weight"`
	Description     string   `yaml:"description"`
}

type sourceRegistry struct {
	Sources []SourceEntry `yaml:"sources"`
}

// LoadSources はYAMLファイルからソースレジストリを読み込む。
func LoadSources(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source registry %s: %w", path, err)
	}
	return ParseSources(bytes.NewReader(data))
}

// ParseSources はYAML形式のソースレジストリを解析し、検証済みのSourceを返す。
// 名前の重複や未知の種別・カテゴリはエラーとする。
func ParseSources(r io.Reader) ([]model.Source, error) {
	var reg sourceRegistry
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}

	seen := make(map[string]struct{}, len(reg.Sources))
	sources := make([]model.Source, 0, len(reg.Sources))
	for i, e := range reg.Sources {
		src, err := e.toSource()
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[src.Name]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		sources = append(sources, src)
	}
	return sources, nil
}

func (e SourceEntry) toSource() (model.Source, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return model.Source{}, errors.New("name is required")
	}
	if strings.TrimSpace(e.URL) == "" {
		return model.Source{}, fmt.Errorf("%s: url is required", name)
	}

	typ, err := model.ParseSourceType(e.Type)
	if err != nil {
		return model.Source{}, fmt.Errorf("%s: %w", name, err)
	}

	src := model.Source{
		Name:          name,
		URL:           strings.TrimSpace(e.URL),
		Type:          typ,
		Active:        true,
		Cadence:       model.CadenceDaily,
		QualityWeight: 1.0,
		Description:   e.Description,
	}
	if e.Active != nil {
		src.Active = *e.Active
	}
	if e.DefaultCategory != "" {
		c, ok := model.ParseCategory(e.DefaultCategory)
		if !ok {
			return model.Source{}, fmt.Errorf("%s: unknown default_category %q", name, e.DefaultCategory)
		}
		src.DefaultCategory = &c
	}
	switch model.Cadence(strings.ToLower(e.Cadence)) {
	case "":
	case model.CadenceHourly, model.CadenceDaily, model.CadenceWeekly:
		src.Cadence = model.Cadence(strings.ToLower(e.Cadence))
	default:
		return model.Source{}, fmt.Errorf("%s: unknown cadence %q", name, e.Cadence)
	}
	if e.QualityWeight != nil {
		if *e.QualityWeight < 0 {
			return model.Source{}, fmt.Errorf("%s: quality_weight must not be negative", name)
		}
		src.QualityWeight = *e.QualityWeight
	}
	return src, nil
}
