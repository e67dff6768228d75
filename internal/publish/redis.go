package publish

import (
	"afl-sancov/internal/types"
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	reportKey     = "sancov:%s:report:%s" // run id, report name
	reportListKey = "sancov:%s:reports"
	summaryKey    = "sancov:%s:summary"
	latestRunKey  = "sancov:latest_run"
)

// RedisPublisher keeps the report documents of a run under its run id.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) PublishReport(ctx context.Context, msg *types.ReportMessage, body []byte) error {
	key, list, member := reportKeys(msg)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, body, 0)
		pipe.RPush(ctx, list, member)
		return nil
	})
	return err
}

// reportKeys returns the document key, the run's report list and the list
// member for msg. Same-named crashes from different instances differ in
// their report name.
func reportKeys(msg *types.ReportMessage) (key, list, member string) {
	member = msg.ReportName
	if member == "" {
		member = msg.CrashingInput
	}
	return fmt.Sprintf(reportKey, msg.RunID, member), fmt.Sprintf(reportListKey, msg.RunID), member
}

func (p *RedisPublisher) PublishSummary(ctx context.Context, summary *types.RunSummary) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, fmt.Sprintf(summaryKey, summary.RunID),
			"mode", summary.Mode,
			"processed", summary.Processed,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
		)
		pipe.Set(ctx, latestRunKey, summary.RunID, 0)
		return nil
	})
	return err
}
