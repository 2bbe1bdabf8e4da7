package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/BTreeMap/CadencePipe/internal/util"
)

// SMSDispatcher sends SMS actions through an SMSProvider.
type SMSDispatcher struct {
	provider SMSProvider
}

// NewSMSDispatcher creates an SMS dispatcher. A nil provider uses StubSMSProvider.
func NewSMSDispatcher(p SMSProvider) *SMSDispatcher {
	if p == nil {
		p = StubSMSProvider{}
	}
	return &SMSDispatcher{provider: p}
}

func (d *SMSDispatcher) Dispatch(ctx context.Context, a *models.Action, _ *models.Lead) models.DispatchResult {
	to, err := NormalizePhone(a.Destination)
	if err != nil {
		return models.Permanent(err)
	}
	id, err := d.provider.Send(ctx, to, a.Body)
	if err != nil {
		return classify(err)
	}
	return models.Sent(map[string]string{models.MetaProviderID: id})
}

// StubSMSProvider accepts every message without sending anything.
type StubSMSProvider struct{}

func (StubSMSProvider) Send(_ context.Context, to, text string) (string, error) {
	id := util.GenerateRandomID("stub-", 12)
	slog.Debug("StubSMSProvider.Send: message accepted", "to", to, "length", len(text), "providerID", id)
	return id, nil
}
