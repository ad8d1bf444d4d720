package table

import (
	"context"

	"github.com/bricerising/homegame/internal/engine"
)

// Chat relays a table chat message unless the sender is muted. Messages are
// fan-out only; nothing is persisted.
func (o *Orchestrator) Chat(ctx context.Context, tableID, userID, text string) error {
	if text == "" {
		return engine.E(engine.CodeInvalidAction, "empty chat message")
	}
	if _, err := o.loadTable(ctx, tableID); err != nil {
		return err
	}
	muted, err := o.store.IsMuted(ctx, tableID, userID)
	if err != nil {
		o.log.Warn("table.chat.muteCheck.failed", "tableId", tableID, "userId", userID, "err", err)
	}
	if muted {
		return engine.E(engine.CodeNotAuthorized, "user %s is muted on table %s", userID, tableID)
	}
	if o.broadcast != nil {
		o.broadcast.Chat(ctx, tableID, userID, text)
	}
	return nil
}
