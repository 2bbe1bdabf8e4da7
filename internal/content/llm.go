package content

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/genai"
	"github.com/BTreeMap/CadencePipe/internal/models"
)

// Completer is the chat completion call LLMGenerator relies on; *genai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (genai.Completion, error)
}

// SMSMaxLength bounds generated SMS bodies.
const SMSMaxLength = 320

// LLMGenerator generates outreach content with a chat model.
type LLMGenerator struct {
	client Completer
	sender string
}

// NewLLMGenerator creates a generator. sender names who the outreach is from.
func NewLLMGenerator(client Completer, sender string) *LLMGenerator {
	return &LLMGenerator{client: client, sender: sender}
}

func (g *LLMGenerator) Generate(ctx context.Context, req GenerationRequest) (GenerationResult, error) {
	if g == nil || g.client == nil {
		return GenerationResult{}, models.ErrGenerationUnavailable
	}
	out, err := g.client.Complete(ctx, g.systemPrompt(req), UserPrompt(req))
	if err != nil {
		return GenerationResult{}, err
	}
	res := ParseGenerated(req.Channel, out.Content)
	res.TokensUsed = out.TotalTokens
	if res.Body == "" {
		return GenerationResult{}, fmt.Errorf("model returned no body")
	}
	if req.Channel == models.ChannelSMS && len([]rune(res.Body)) > SMSMaxLength {
		res.Body = string([]rune(res.Body)[:SMSMaxLength])
	}
	return res, nil
}

func (g *LLMGenerator) systemPrompt(req GenerationRequest) string {
	var b strings.Builder
	from := g.sender
	if from == "" {
		from = "our team"
	}
	switch req.Channel {
	case models.ChannelEmail:
		fmt.Fprintf(&b, "You write one personalized sales outreach email on behalf of %s.\n", from)
		b.WriteString("Start with a line of the form \"Subject: <subject>\", then a blank line, then the email body as simple HTML paragraphs. No signature placeholders.\n")
	case models.ChannelSMS:
		fmt.Fprintf(&b, "You write one short, personalized SMS on behalf of %s.\n", from)
		fmt.Fprintf(&b, "Plain text only, at most %d characters, no links unless the instructions provide one.\n", SMSMaxLength)
	case models.ChannelVoice:
		fmt.Fprintf(&b, "You write the briefing for an AI voice agent calling a lead on behalf of %s.\n", from)
		b.WriteString("Describe the opening line, the goal of the call, key talking points and how to handle a not-interested answer. Plain text.\n")
	}
	b.WriteString("Never invent facts about the lead or the product beyond what is provided.\n")
	b.WriteString(req.ToneGuide)
	return b.String()
}

// UserPrompt renders the lead profile and context block given to the model.
func UserPrompt(req GenerationRequest) string {
	var b strings.Builder
	b.WriteString("Lead profile:\n")
	writeField(&b, "Name", req.Lead.Name)
	writeField(&b, "Company", req.Lead.Company)
	writeField(&b, "Title", req.Lead.Title)
	writeField(&b, "Industry", req.Lead.Industry)
	writeField(&b, "Interest", req.Lead.Interest)
	if req.Lead.Score != 0 {
		writeField(&b, "Lead score", strconv.FormatFloat(req.Lead.Score, 'f', -1, 64))
	}
	if req.CampaignContext != "" {
		b.WriteString("\nCampaign context:\n" + req.CampaignContext + "\n")
	}
	if req.CohortContext != "" {
		b.WriteString("\nCohort context:\n" + req.CohortContext + "\n")
	}
	if len(req.History) > 0 {
		b.WriteString("\nRecent interactions (newest first):\n")
		for _, h := range req.History {
			b.WriteString("- " + h + "\n")
		}
	}
	if req.Goal != "" {
		b.WriteString("\nGoal of this message: " + req.Goal + "\n")
	}
	b.WriteString("\nInstructions:\n" + req.Instructions + "\n")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString("- " + label + ": " + value + "\n")
}

// ParseGenerated splits an optional leading "Subject:" line off email output.
func ParseGenerated(channel models.Channel, text string) GenerationResult {
	text = strings.TrimSpace(text)
	if channel != models.ChannelEmail {
		return GenerationResult{Body: text}
	}
	first, rest, _ := strings.Cut(text, "\n")
	if len(first) >= 8 && strings.EqualFold(first[:8], "subject:") {
		return GenerationResult{
			Subject: strings.TrimSpace(first[8:]),
			Body:    strings.TrimSpace(rest),
		}
	}
	return GenerationResult{Body: text}
}
