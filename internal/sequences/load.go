// Package sequences loads sequence definitions from YAML files and syncs them into the store.
package sequences

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/util"
	"gopkg.in/yaml.v3"
)

type sequenceFile struct {
	ID     string     `yaml:"id" validate:"required"`
	Name   string     `yaml:"name"`
	Active *bool      `yaml:"active"`
	Steps  []stepFile `yaml:"steps" validate:"required,min=1,dive"`
}

type stepFile struct {
	Delay           string `yaml:"delay"`
	Channel         string `yaml:"channel" validate:"required,oneof=email voice sms"`
	MaxAttempts     int    `yaml:"max_attempts" validate:"omitempty,min=1"`
	FallbackChannel string `yaml:"fallback_channel" validate:"omitempty,oneof=email voice sms,nefield=Channel"`
	Subject         string `yaml:"subject"`
	Body            string `yaml:"body"`
	Instructions    string `yaml:"instructions"`
	Tone            string `yaml:"tone"`
	Goal            string `yaml:"goal"`
	VoiceScript     string `yaml:"voice_script"`
	AgentProfile    string `yaml:"agent_profile"`
}

// Sink receives loaded sequences.
type Sink interface {
	UpsertSequence(seq models.Sequence) error
}

// LoadSequence reads a single sequence from disk.
func LoadSequence(path string) (*models.Sequence, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sequence path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sequence %s: %w", path, err)
	}
	seq, err := ParseSequence(data)
	if err != nil {
		return nil, fmt.Errorf("parse sequence %s: %w", path, err)
	}
	return seq, nil
}

// LoadSequencesFromDir loads every .yaml/.yml file in dir. A missing directory yields no sequences.
func LoadSequencesFromDir(dir string) ([]*models.Sequence, error) {
	if strings.TrimSpace(dir) == "" {
		return []*models.Sequence{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Sequence{}, nil
		}
		return nil, fmt.Errorf("read sequences dir %s: %w", dir, err)
	}

	out := make([]*models.Sequence, 0)
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		seq, err := LoadSequence(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[seq.ID]; dup {
			return nil, fmt.Errorf("duplicate sequence id %q in %s and %s", seq.ID, prev, path)
		}
		seen[seq.ID] = path
		out = append(out, seq)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ParseSequence decodes and validates one YAML sequence document.
func ParseSequence(data []byte) (*models.Sequence, error) {
	var f sequenceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	f.ID = strings.TrimSpace(f.ID)
	for i := range f.Steps {
		normalizeStep(&f.Steps[i])
	}
	if err := util.ValidateStruct(f); err != nil {
		return nil, err
	}

	seq := &models.Sequence{
		ID:     f.ID,
		Name:   strings.TrimSpace(f.Name),
		Active: f.Active == nil || *f.Active,
		Steps:  make([]models.Step, 0, len(f.Steps)),
	}
	if seq.Name == "" {
		seq.Name = seq.ID
	}
	for i, sf := range f.Steps {
		delay, err := ParseDelay(sf.Delay)
		if err != nil {
			return nil, fmt.Errorf("sequence step %d: %w", i+1, err)
		}
		step := models.Step{
			DelayOffset:     delay,
			Channel:         models.Channel(sf.Channel),
			MaxAttempts:     sf.MaxAttempts,
			FallbackChannel: models.Channel(sf.FallbackChannel),
			Subject:         sf.Subject,
			Body:            sf.Body,
			Instructions:    sf.Instructions,
			Tone:            sf.Tone,
			Goal:            sf.Goal,
			VoiceScript:     sf.VoiceScript,
			AgentProfile:    sf.AgentProfile,
		}
		if step.MaxAttempts == 0 {
			step.MaxAttempts = 1
		}
		if step.Channel != models.ChannelVoice && (step.VoiceScript != "" || step.AgentProfile != "") {
			return nil, fmt.Errorf("sequence step %d: voice_script and agent_profile apply to voice steps only", i+1)
		}
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("sequence step %d: %w", i+1, err)
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}

func normalizeStep(step *stepFile) {
	step.Channel = strings.ToLower(strings.TrimSpace(step.Channel))
	step.FallbackChannel = strings.ToLower(strings.TrimSpace(step.FallbackChannel))
	step.Delay = strings.TrimSpace(step.Delay)
	step.Subject = strings.TrimSpace(step.Subject)
	step.Instructions = strings.TrimSpace(step.Instructions)
	step.Tone = strings.TrimSpace(step.Tone)
	step.Goal = strings.TrimSpace(step.Goal)
	step.AgentProfile = strings.TrimSpace(step.AgentProfile)
}

// ParseDelay parses a Go duration that may also carry a leading day component, e.g. "2d" or "1d12h".
// An empty string or "0" means no delay.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	var total time.Duration
	if i := strings.IndexByte(s, 'd'); i >= 0 {
		days, err := strconv.Atoi(s[:i])
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid delay %q", s)
		}
		total = time.Duration(days) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return total, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", s, err)
	}
	if d < 0 {
		return 0, models.ErrNegativeDelay
	}
	return total + d, nil
}

// Sync loads every sequence in dir and upserts it into sink.
func Sync(dir string, sink Sink) (int, error) {
	seqs, err := LoadSequencesFromDir(dir)
	if err != nil {
		return 0, err
	}
	for _, seq := range seqs {
		if err := sink.UpsertSequence(*seq); err != nil {
			return 0, fmt.Errorf("sync sequence %s: %w", seq.ID, err)
		}
		slog.Debug("sequences.Sync: upserted", "sequenceID", seq.ID, "steps", len(seq.Steps), "active", seq.Active)
	}
	slog.Info("sequences.Sync: sequences loaded", "dir", dir, "count", len(seqs))
	return len(seqs), nil
}
