// Package mongoarchive implements coordinator.TelemetryArchive over MongoDB.
package mongoarchive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

const collectionName = "receiver_status_history"

// Archive appends one document per ReceiverStatus frame to a collection,
// for later charting independent of the Dispatcher's live state. It is
// additive-only: nothing in the coordinator reads it back.
type Archive struct {
	collection *mongo.Collection
}

func New(db *mongo.Database) *Archive {
	return &Archive{collection: db.Collection(collectionName)}
}

type receiverStatusDoc struct {
	ControllerID int64     `bson:"controller_id"`
	Values       []uint32  `bson:"values"`
	RecordedAt   time.Time `bson:"recorded_at"`
}

func (a *Archive) AppendReceiverStatus(ctx context.Context, controllerID int64, values []uint32) error {
	doc := receiverStatusDoc{
		ControllerID: controllerID,
		Values:       values,
		RecordedAt:   time.Now().UTC(),
	}
	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongoarchive: insert: %w", err)
	}
	return nil
}
