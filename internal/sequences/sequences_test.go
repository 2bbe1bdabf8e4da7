package sequences

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
)

const welcomeYAML = `id: welcome
name: Welcome
steps:
  - channel: email
    delay: 0
    subject: "Hi {{first_name}}"
    body: "Thanks for your interest in {{interest}}."
  - channel: voice
    delay: 2d
    max_attempts: 2
    fallback_channel: email
    voice_script: "Hello {{first_name}}, calling from Acme."
    agent_profile: sdr
    tone: warm, concise
`

func TestLoadSequence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "welcome.yaml")
	if err := os.WriteFile(path, []byte(welcomeYAML), 0644); err != nil {
		t.Fatalf("write sequence: %v", err)
	}

	seq, err := LoadSequence(path)
	if err != nil {
		t.Fatalf("LoadSequence: %v", err)
	}
	if seq.ID != "welcome" || !seq.Active {
		t.Fatalf("unexpected sequence header: %+v", seq)
	}
	if len(seq.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(seq.Steps))
	}
	if seq.Steps[0].MaxAttempts != 1 {
		t.Errorf("max_attempts should default to 1, got %d", seq.Steps[0].MaxAttempts)
	}
	voice := seq.Steps[1]
	if voice.DelayOffset != 48*time.Hour || voice.FallbackChannel != models.ChannelEmail || voice.AgentProfile != "sdr" {
		t.Errorf("unexpected voice step: %+v", voice)
	}
}

func TestParseSequenceRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "steps:\n  - channel: email\n", "id is required"},
		{"no steps", "id: x\n", "steps is required"},
		{"bad channel", "id: x\nsteps:\n  - channel: fax\n", "channel must be one of"},
		{"fallback same", "id: x\nsteps:\n  - channel: sms\n    fallback_channel: sms\n", "must differ"},
		{"bad delay", "id: x\nsteps:\n  - channel: sms\n    delay: soon\n", "invalid delay"},
		{"zero attempts", "id: x\nsteps:\n  - channel: sms\n    max_attempts: -1\n", "maxattempts must be at least 1"},
		{"voice field on email", "id: x\nsteps:\n  - channel: email\n    voice_script: hi\n", "voice steps only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSequence([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestParseSequenceInactive(t *testing.T) {
	seq, err := ParseSequence([]byte("id: paused\nactive: false\nsteps:\n  - channel: sms\n    body: hi\n"))
	if err != nil {
		t.Fatalf("ParseSequence: %v", err)
	}
	if seq.Active {
		t.Error("expected inactive sequence")
	}
	if seq.Name != "paused" {
		t.Errorf("name should default to id, got %q", seq.Name)
	}
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"30m", 30 * time.Minute, false},
		{"2d", 48 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"xd", 0, true},
		{"-1h", 0, true},
		{"later", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDelay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDelay(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDelay(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type recordingSink struct {
	seqs []models.Sequence
}

func (r *recordingSink) UpsertSequence(seq models.Sequence) error {
	r.seqs = append(r.seqs, seq)
	return nil
}

func TestSyncFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte(welcomeYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: alpha\nsteps:\n  - channel: sms\n    body: hi\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	n, err := Sync(dir, sink)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 || len(sink.seqs) != 2 {
		t.Fatalf("expected 2 sequences synced, got %d", n)
	}
	if sink.seqs[0].ID != "alpha" || sink.seqs[1].ID != "welcome" {
		t.Errorf("sequences not sorted by id: %s, %s", sink.seqs[0].ID, sink.seqs[1].ID)
	}
}

func TestLoadSequencesFromDirDuplicateID(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.yaml", "two.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(welcomeYAML), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := LoadSequencesFromDir(dir); err == nil || !strings.Contains(err.Error(), "duplicate sequence id") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestLoadSequencesFromMissingDir(t *testing.T) {
	seqs, err := LoadSequencesFromDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(seqs) != 0 {
		t.Errorf("missing dir should yield no sequences, got %d, %v", len(seqs), err)
	}
}
