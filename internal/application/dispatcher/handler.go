package dispatcher

import (
	"context"

	"github.com/garyjia/crm-workflow/internal/domain/event"
)

// Handler processes application events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string     `json:"name"`
	EventType   event.Type `json:"event_type"`
	Description string     `json:"description,omitempty"`
	Handler     Handler    `json:"-"`
}
