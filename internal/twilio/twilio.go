// Package twilio places outbound calls and text messages through the Twilio REST API.
package twilio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/CadencePipe/internal/messaging"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// DefaultVoice is the text-to-speech voice used for scripted calls.
const DefaultVoice = "Polly.Joanna"

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	StatusCallback string
	Voice          string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the caller ID used for calls and messages.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithStatusCallback sets the URL Twilio posts call status changes to.
func WithStatusCallback(url string) Option {
	return func(o *Opts) { o.StatusCallback = url }
}

func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// ErrNoScript is returned when a call request has no script. Generated agent prompts are never
// read aloud.
var ErrNoScript = fmt.Errorf("%w: text-to-speech calls need a script", models.ErrNoCallScript)

// api is the subset of the Twilio REST service used here.
type api interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client implements messaging.VoiceProvider and messaging.SMSProvider.
type Client struct {
	api            api
	from           string
	statusCallback string
	voice          string
}

var (
	_ messaging.VoiceProvider = (*Client)(nil)
	_ messaging.SMSProvider   = (*Client)(nil)
)

// NewClient builds a client. Unset options fall back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN
// and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg), nil
}

func newClient(a api, cfg Opts) *Client {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	return &Client{api: a, from: cfg.FromNumber, statusCallback: cfg.StatusCallback, voice: voice}
}

// Call places an outbound call that speaks the request's script.
func (c *Client) Call(ctx context.Context, req messaging.CallRequest) (messaging.CallResult, error) {
	if err := ctx.Err(); err != nil {
		return messaging.CallResult{}, err
	}
	doc, err := BuildTwiML(req, c.voice)
	if err != nil {
		return messaging.CallResult{}, err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(c.from)
	params.SetTwiml(doc)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}

	call, err := c.api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio CreateCall failed", "to", req.To, "error", err)
		return messaging.CallResult{}, fmt.Errorf("failed to place call to %s: %w", req.To, err)
	}
	res := messaging.CallResult{ProviderID: deref(call.Sid), Status: deref(call.Status)}
	slog.Debug("Twilio call created", "to", req.To, "sid", res.ProviderID, "status", res.Status)
	return res, nil
}

// Send sends an SMS and returns the message SID.
func (c *Client) Send(ctx context.Context, to, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(text)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio CreateMessage failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := deref(msg.Sid)
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return sid, nil
}

// BuildTwiML renders the voice document for a call request.
func BuildTwiML(req messaging.CallRequest, voice string) (string, error) {
	text := strings.TrimSpace(req.Script)
	if text == "" {
		return "", ErrNoScript
	}
	var verbs []twiml.Element
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(verbs) > 0 {
			verbs = append(verbs, &twiml.VoicePause{Length: "1"})
		}
		verbs = append(verbs, &twiml.VoiceSay{Message: para, Voice: voice})
	}
	return twiml.Voice(verbs)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
