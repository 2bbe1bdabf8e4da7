package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/BTreeMap/CadencePipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream outcomes are appended to.
const DefaultStream = "cadence:outcomes"

// DefaultStreamMaxLen caps the stream length (approximate trimming).
const DefaultStreamMaxLen = 100000

// RedisSink appends outcomes to a Redis stream with XADD.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink creates a sink on stream. An empty stream uses DefaultStream.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: DefaultStreamMaxLen}
}

func (s *RedisSink) Record(ctx context.Context, o models.Outcome) error {
	values, err := streamValues(o)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func streamValues(o models.Outcome) (map[string]interface{}, error) {
	values := map[string]interface{}{
		"lead_id":     o.LeadID,
		"campaign_id": o.CampaignID,
		"action_id":   o.ActionID,
		"channel":     string(o.Channel),
		"step_index":  strconv.Itoa(o.StepIndex),
		"kind":        string(o.Kind),
		"occurred_at": o.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if len(o.Metadata) > 0 {
		meta, err := json.Marshal(o.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode outcome metadata: %w", err)
		}
		values["metadata"] = string(meta)
	}
	return values, nil
}
