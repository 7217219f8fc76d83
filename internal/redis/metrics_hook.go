package redis

import (
	"context"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/nazuninha/wabot/internal/metrics"
)

// metricsHook implements redis.Hook to count every store operation.
type metricsHook struct{}

var _ redis.Hook = (*metricsHook)(nil)

func (h *metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)

		status := "success"
		if err != nil && err != redis.Nil {
			status = "error"
		}
		metrics.StoreOpsTotal.WithLabelValues(cmd.Name(), status).Inc()

		return err
	}
}

func (h *metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)

		status := "success"
		if err != nil && err != redis.Nil {
			status = "error"
		}
		for _, cmd := range cmds {
			metrics.StoreOpsTotal.WithLabelValues(cmd.Name(), status).Inc()
		}

		return err
	}
}
