package gateway

import (
	"context"
	"runtime/debug"

	"relaybot/internal/router"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// worker consumes one shard until ctx is cancelled, then drains what is
// left. Handlers run on a context that is not cancelled by shutdown.
func (g *Gateway) worker(ctx context.Context, q <-chan kit.Update) error {
	procCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case up := <-q:
					g.process(procCtx, up)
				default:
					return nil
				}
			}
		case up := <-q:
			g.process(procCtx, up)
		}
	}
}

func (g *Gateway) process(ctx context.Context, up kit.Update) {
	defer g.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("panic while routing update",
				logx.Int("update_id", up.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	out := g.router.Route(ctx, up)
	if out.Status == router.StatusIgnored {
		return
	}
	g.log.Debug("update routed",
		logx.Int("update_id", up.ID),
		logx.Int64("chat_id", up.ChatID()),
		logx.String("op", string(out.Op)),
		logx.String("status", out.Status.String()),
	)
}
