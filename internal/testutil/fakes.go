package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/BTreeMap/CadencePipe/internal/content"
	"github.com/BTreeMap/CadencePipe/internal/messaging"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// SentEmail is one email captured by FakeEmailTransport.
type SentEmail struct {
	To      string
	Subject string
	HTML    string
	Headers map[string]string
}

// FakeEmailTransport records emails. Err, when set, is returned from every Send.
type FakeEmailTransport struct {
	mu   sync.Mutex
	Sent []SentEmail
	Err  error
}

func (f *FakeEmailTransport) Send(_ context.Context, to, subject, html string, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Sent = append(f.Sent, SentEmail{To: to, Subject: subject, HTML: html, Headers: headers})
	return nil
}

// Count returns how many emails were sent.
func (f *FakeEmailTransport) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// FakeVoiceProvider records calls. Failures makes the next N calls fail with ErrProviderRejected.
// With ScriptOnly set it behaves like a text-to-speech provider and rejects calls without a script.
type FakeVoiceProvider struct {
	mu         sync.Mutex
	Calls      []messaging.CallRequest
	Failures   int
	ScriptOnly bool
}

func (f *FakeVoiceProvider) Call(_ context.Context, req messaging.CallRequest) (messaging.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, req)
	if f.ScriptOnly && strings.TrimSpace(req.Script) == "" {
		return messaging.CallResult{}, models.ErrNoCallScript
	}
	if f.Failures > 0 {
		f.Failures--
		return messaging.CallResult{}, fmt.Errorf("%w: line busy", models.ErrProviderRejected)
	}
	return messaging.CallResult{ProviderID: fmt.Sprintf("CA%04d", len(f.Calls)), Status: "queued"}, nil
}

// Count returns how many calls were attempted.
func (f *FakeVoiceProvider) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// SentSMS is one text captured by FakeSMSProvider.
type SentSMS struct {
	To   string
	Text string
}

// FakeSMSProvider records texts. Err, when set, is returned from every Send.
type FakeSMSProvider struct {
	mu   sync.Mutex
	Sent []SentSMS
	Err  error
}

func (f *FakeSMSProvider) Send(_ context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Sent = append(f.Sent, SentSMS{To: to, Text: text})
	return fmt.Sprintf("SM%04d", len(f.Sent)), nil
}

// FakeGenerator returns Result, or Err when set, and records every request.
type FakeGenerator struct {
	mu       sync.Mutex
	Requests []content.GenerationRequest
	Result   content.GenerationResult
	Err      error
}

func (f *FakeGenerator) Generate(_ context.Context, req content.GenerationRequest) (content.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if f.Err != nil {
		return content.GenerationResult{}, f.Err
	}
	return f.Result, nil
}

// RecordingSink keeps every outcome it receives.
type RecordingSink struct {
	mu       sync.Mutex
	Outcomes []models.Outcome
	Err      error
}

func (s *RecordingSink) Record(_ context.Context, o models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Outcomes = append(s.Outcomes, o)
	return nil
}

// Kinds returns the recorded outcome kinds in order.
func (s *RecordingSink) Kinds() []models.OutcomeKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OutcomeKind, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		out = append(out, o.Kind)
	}
	return out
}

var (
	_ messaging.EmailTransport = (*FakeEmailTransport)(nil)
	_ messaging.VoiceProvider  = (*FakeVoiceProvider)(nil)
	_ messaging.SMSProvider    = (*FakeSMSProvider)(nil)
	_ content.Generator        = (*FakeGenerator)(nil)
)
