package ledger

import (
	"context"
	"fmt"

	"bracket_trader/internal/models"
)

// Recorder persists a session's transactions and, when a publisher is configured,
// forwards the newly inserted ones. The two succeed or fail together.
type Recorder struct {
	store     *Store
	publisher Publisher
}

// NewRecorder builds a Recorder. publisher may be nil.
func NewRecorder(store *Store, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

func (r *Recorder) Append(ctx context.Context, day models.SessionDay, txns []models.Transaction) (int, error) {
	var publish func([]models.Transaction) error
	if r.publisher != nil {
		publish = func(inserted []models.Transaction) error {
			if err := r.publisher.Publish(ctx, day.Date, inserted); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			return nil
		}
	}
	return r.store.Append(ctx, day, txns, publish)
}
