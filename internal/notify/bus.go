package notify

import (
	"context"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// Bus both publishes and delivers changes
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, fn func(models.Change)) (cancel func(), err error)
}

var (
	_ Bus = (*Local)(nil)
	_ Bus = (*Redis)(nil)
)
