package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/note-lending/internal/models"
	"github.com/Dan9191/note-lending/internal/notify"
)

// HandleOwnershipChange receives rights-holder changes from the note
// registry. The new holder is not cached: every settlement re-reads the
// registry, so this only records the change.
func (e *Engine) HandleOwnershipChange(ctx context.Context, noteID, newHolder string) {
	entry := e.log.WithFields(logrus.Fields{"note_id": noteID, "rights_holder": newHolder})

	rec, err := e.store.GetRecord(ctx, noteID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		entry.Debug("Rights-holder changed before schedule registration")
		return
	case err != nil:
		entry.Warnf("Rights-holder change on unreadable record: %v", err)
		return
	case !rec.Active:
		entry.Debug("Rights-holder changed on closed note")
		return
	}

	entry.Info("Rights-holder changed")
	ev := notify.NewEvent(notify.RightsHolderChanged, noteID, e.now())
	ev.To = newHolder
	e.emit(ctx, ev)
}
