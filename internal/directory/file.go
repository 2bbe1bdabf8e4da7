package directory

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"gopkg.in/yaml.v3"
)

type leadFile struct {
	Leads []struct {
		ID       string  `yaml:"id"`
		Name     string  `yaml:"name"`
		Company  string  `yaml:"company"`
		Title    string  `yaml:"title"`
		Email    string  `yaml:"email"`
		Phone    string  `yaml:"phone"`
		Industry string  `yaml:"industry"`
		Score    float64 `yaml:"score"`
		Interest string  `yaml:"interest"`
		Cohort   string  `yaml:"cohort"`
	} `yaml:"leads"`
}

// LoadFile reads a YAML lead fixture ({leads: [...]}) into a MemoryDirectory.
func LoadFile(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read leads file %s: %w", path, err)
	}
	var f leadFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse leads file %s: %w", path, err)
	}
	d := NewMemoryDirectory()
	for i, l := range f.Leads {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			return nil, fmt.Errorf("leads file %s: entry %d has no id", path, i+1)
		}
		d.Put(models.Lead{
			ID:       id,
			Name:     strings.TrimSpace(l.Name),
			Company:  l.Company,
			Title:    l.Title,
			Email:    strings.TrimSpace(l.Email),
			Phone:    strings.TrimSpace(l.Phone),
			Industry: l.Industry,
			Score:    l.Score,
			Interest: l.Interest,
			Cohort:   l.Cohort,
		})
	}
	slog.Debug("directory.LoadFile: leads loaded", "path", path, "count", len(f.Leads))
	return d, nil
}
