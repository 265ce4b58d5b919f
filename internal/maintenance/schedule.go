package maintenance

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Schedule runs fn on the given cron expression until ctx is canceled.
// A pass already in flight when ctx is canceled runs to completion.
func Schedule(ctx context.Context, spec string, fn func()) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	c.Start()
	log.Printf("maintenance: scheduled with %q", spec)
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
