package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// mongoCheckpoint is the document backing one workflow checkpoint.
type mongoCheckpoint struct {
	WorkflowID    string    `bson:"_id"`
	SchemaVersion int       `bson:"schema_version"`
	Revision      int64     `bson:"revision"`
	SavedAt       time.Time `bson:"saved_at"`
	State         []byte    `bson:"state"`
}

// MongoStore persists checkpoints in a MongoDB collection, one document
// per workflow. Optimistic concurrency is a replace guarded on the stored
// revision.
type MongoStore struct {
	coll *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed checkpoint store.
func NewMongoStore(client *mongo.Client, database, collection string) (*MongoStore, error) {
	if client == nil {
		return nil, fmt.Errorf("checkpoint: mongo client is required")
	}
	if database == "" || collection == "" {
		return nil, fmt.Errorf("checkpoint: database and collection are required")
	}
	return &MongoStore{coll: client.Database(database).Collection(collection)}, nil
}

// Save implements Store.
func (s *MongoStore) Save(ctx context.Context, env *Envelope) error {
	doc := mongoCheckpoint{
		WorkflowID:    env.WorkflowID,
		SchemaVersion: env.SchemaVersion,
		Revision:      env.Revision,
		SavedAt:       env.SavedAt,
		State:         append([]byte(nil), env.State...),
	}

	if env.Revision == 1 {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return errStale(env.WorkflowID, env.Revision)
		}
		if err != nil {
			return fmt.Errorf("checkpoint: insert: %w", err)
		}
		return nil
	}

	filter := bson.M{"_id": env.WorkflowID, "revision": env.Revision - 1}
	result, err := s.coll.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("checkpoint: replace: %w", err)
	}
	if result.MatchedCount == 0 {
		return errStale(env.WorkflowID, env.Revision)
	}
	return nil
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context, workflowID string) (*Envelope, bool, error) {
	var doc mongoCheckpoint
	err := s.coll.FindOne(ctx, bson.M{"_id": workflowID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: load %s: %w", workflowID, err)
	}

	return &Envelope{
		SchemaVersion: doc.SchemaVersion,
		WorkflowID:    doc.WorkflowID,
		Revision:      doc.Revision,
		SavedAt:       doc.SavedAt,
		State:         doc.State,
	}, true, nil
}
