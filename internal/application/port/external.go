package port

import (
	"context"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

// Notifier delivers an outbound notification through whatever transport is
// configured. The engine never waits on delivery; implementations decide
// whether to absorb or surface transport failures.
type Notifier interface {
	Send(ctx context.Context, notification *entity.OutboundNotification) error
}
