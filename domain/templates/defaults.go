package templates

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type defaultsFile struct {
	Templates []defaultTemplate `yaml:"templates"`
}

type defaultTemplate struct {
	Name         string           `yaml:"name"`
	DocumentType string           `yaml:"document_type"`
	Description  string           `yaml:"description"`
	Columns      []TemplateColumn `yaml:"columns"`
}

// defaultTemplates parses the embedded seed file. The file ships with
// the binary, so a parse failure is a build defect, not runtime input.
func defaultTemplates() ([]*MappingTemplate, error) {
	var file defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}
	templates := make([]*MappingTemplate, 0, len(file.Templates))
	for _, d := range file.Templates {
		t := &MappingTemplate{
			Name:        d.Name,
			Description: d.Description,
			Columns:     d.Columns,
			IsDefault:   true,
		}
		if d.DocumentType != "" {
			dt := d.DocumentType
			t.DocumentType = &dt
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("embedded template %q: %w", d.Name, err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}
