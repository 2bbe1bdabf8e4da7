package messaging

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/badoux/checkmail"
)

// Headers attached to every outreach email.
const (
	HeaderActionID   = "X-Cadence-Action-ID"
	HeaderLeadID     = "X-Cadence-Lead-ID"
	HeaderCampaignID = "X-Cadence-Campaign-ID"
)

// EmailDispatcher sends email actions through an EmailTransport.
type EmailDispatcher struct {
	transport EmailTransport
}

// NewEmailDispatcher creates an email dispatcher. A nil transport makes every dispatch a
// skipped_unconfigured result.
func NewEmailDispatcher(t EmailTransport) *EmailDispatcher {
	return &EmailDispatcher{transport: t}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, a *models.Action, _ *models.Lead) models.DispatchResult {
	if d.transport == nil {
		return models.SkippedUnconfigured()
	}
	to := strings.TrimSpace(a.Destination)
	if to == "" {
		return models.Permanent(models.ErrMissingDestination)
	}
	if err := checkmail.ValidateFormat(to); err != nil {
		return models.Permanent(fmt.Errorf("%w: invalid email address %q", models.ErrMissingDestination, to))
	}

	headers := map[string]string{
		HeaderActionID: a.ID,
		HeaderLeadID:   a.LeadID,
	}
	if a.CampaignID != "" {
		headers[HeaderCampaignID] = a.CampaignID
	}
	if err := d.transport.Send(ctx, to, a.Subject, RenderHTML(a.Body), headers); err != nil {
		return classify(err)
	}
	return models.Sent(nil)
}

// RenderHTML turns a plain-text body into simple paragraphs. Bodies that already contain
// markup are returned unchanged.
func RenderHTML(body string) string {
	if looksLikeHTML(body) {
		return body
	}
	var b strings.Builder
	for _, para := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	for _, tag := range []string{"<p", "<br", "<div", "<html", "<table"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}
