package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/optistock/pkg/utils"
)

// FileCheckpointStore keeps one JSON file per resource under Dir.
type FileCheckpointStore struct {
	Dir string
}

func NewFileCheckpointStore(dir string) *FileCheckpointStore {
	return &FileCheckpointStore{Dir: dir}
}

func (s *FileCheckpointStore) path(resource string) string {
	return filepath.Join(s.Dir, resource+".checkpoint.json")
}

func (s *FileCheckpointStore) Load(_ context.Context, resource string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(resource))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path(resource), err)
	}
	if cp.Resource == "" {
		cp.Resource = resource
	}
	return &cp, nil
}

// Save writes through a temp file and a rename so a crash never leaves a torn checkpoint.
func (s *FileCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	target := s.path(cp.Resource)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return os.Rename(tmp, target)
}

func (s *FileCheckpointStore) Clear(_ context.Context, resource string) error {
	err := os.Remove(s.path(resource))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

const CheckpointCollection = "checkpoints"

// MongoCheckpointStore keeps checkpoints in a collection keyed by resource name.
type MongoCheckpointStore struct {
	coll *mongo.Collection
}

func NewMongoCheckpointStore(client *mongo.Client, database string) *MongoCheckpointStore {
	return &MongoCheckpointStore{coll: client.Database(database).Collection(CheckpointCollection)}
}

func (s *MongoCheckpointStore) Load(ctx context.Context, resource string) (*Checkpoint, error) {
	var doc bson.M
	err := s.coll.FindOne(ctx, bson.M{"_id": resource}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", resource, err)
	}

	// Numeric fields come back as int32 or int64 depending on how they were written.
	cp := &Checkpoint{
		Resource: resource,
		Cursor:   utils.GetIntOffset(doc["cursor"]),
		Pages:    utils.GetIntOffset(doc["pages"]),
		Rows:     utils.GetIntOffset(doc["rows"]),
	}
	if ts, ok := doc["updatedAt"].(primitive.DateTime); ok {
		cp.UpdatedAt = ts.Time()
	}
	return cp, nil
}

func (s *MongoCheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	update := bson.M{"$set": bson.M{
		"cursor":    cp.Cursor,
		"pages":     cp.Pages,
		"rows":      cp.Rows,
		"updatedAt": cp.UpdatedAt,
	}}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": cp.Resource}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", cp.Resource, err)
	}
	return nil
}

func (s *MongoCheckpointStore) Clear(ctx context.Context, resource string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": resource})
	return err
}
