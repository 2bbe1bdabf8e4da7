package models

import (
	"encoding/json"
	"fmt"
)

// Hints carries channel-specific generation and delivery hints for an action.
// Each channel has exactly one variant; the unexported method seals the set.
type Hints interface {
	Channel() Channel
	ToneTags() string
	StepGoal() string
	sealedHints()
}

// EmailHints are the hints available to email steps.
type EmailHints struct {
	Tone string `json:"tone,omitempty"`
	Goal string `json:"goal,omitempty"`
}

// VoiceHints are the hints available to voice steps.
type VoiceHints struct {
	Tone         string `json:"tone,omitempty"`
	Goal         string `json:"goal,omitempty"`
	Script       string `json:"script,omitempty"`
	AgentProfile string `json:"agent_profile,omitempty"`
}

// SMSHints are the hints available to SMS steps.
type SMSHints struct {
	Tone string `json:"tone,omitempty"`
	Goal string `json:"goal,omitempty"`
}

func (EmailHints) Channel() Channel { return ChannelEmail }
func (VoiceHints) Channel() Channel { return ChannelVoice }
func (SMSHints) Channel() Channel   { return ChannelSMS }

func (h EmailHints) ToneTags() string { return h.Tone }
func (h VoiceHints) ToneTags() string { return h.Tone }
func (h SMSHints) ToneTags() string   { return h.Tone }

func (h EmailHints) StepGoal() string { return h.Goal }
func (h VoiceHints) StepGoal() string { return h.Goal }
func (h SMSHints) StepGoal() string   { return h.Goal }

func (EmailHints) sealedHints() {}
func (VoiceHints) sealedHints() {}
func (SMSHints) sealedHints()   {}

// HintsForStep builds the hints variant matching the step's channel.
func HintsForStep(step Step) Hints {
	return hintsFor(step.Channel, step.Tone, step.Goal, step.VoiceScript, step.AgentProfile)
}

// ConvertHints rebuilds hints for another channel, keeping tone and goal.
// Voice-only fields are dropped when leaving the voice channel.
func ConvertHints(h Hints, to Channel) Hints {
	if h == nil {
		return hintsFor(to, "", "", "", "")
	}
	if h.Channel() == to {
		return h
	}
	return hintsFor(to, h.ToneTags(), h.StepGoal(), "", "")
}

func hintsFor(c Channel, tone, goal, script, profile string) Hints {
	switch c {
	case ChannelVoice:
		return VoiceHints{Tone: tone, Goal: goal, Script: script, AgentProfile: profile}
	case ChannelSMS:
		return SMSHints{Tone: tone, Goal: goal}
	default:
		return EmailHints{Tone: tone, Goal: goal}
	}
}

type hintsEnvelope struct {
	Channel Channel     `json:"channel"`
	Email   *EmailHints `json:"email,omitempty"`
	Voice   *VoiceHints `json:"voice,omitempty"`
	SMS     *SMSHints   `json:"sms,omitempty"`
}

// MarshalHints encodes hints as a tagged JSON envelope. Nil hints encode as "".
func MarshalHints(h Hints) (string, error) {
	if h == nil {
		return "", nil
	}
	env := hintsEnvelope{Channel: h.Channel()}
	switch v := h.(type) {
	case EmailHints:
		env.Email = &v
	case VoiceHints:
		env.Voice = &v
	case SMSHints:
		env.SMS = &v
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownHintsEnvelope, h)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalHints decodes a tagged JSON envelope produced by MarshalHints.
func UnmarshalHints(data string) (Hints, error) {
	if data == "" {
		return nil, nil
	}
	var env hintsEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("decode hints: %w", err)
	}
	switch {
	case env.Channel == ChannelEmail && env.Email != nil:
		return *env.Email, nil
	case env.Channel == ChannelVoice && env.Voice != nil:
		return *env.Voice, nil
	case env.Channel == ChannelSMS && env.SMS != nil:
		return *env.SMS, nil
	}
	return nil, fmt.Errorf("%w: channel %q", ErrUnknownHintsEnvelope, env.Channel)
}
