package load

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const RunCollection = "load_runs"

// MongoRunRecorder stores one document per batch run, keyed by run id.
type MongoRunRecorder struct {
	coll *mongo.Collection
}

func NewMongoRunRecorder(client *mongo.Client, database string) *MongoRunRecorder {
	return &MongoRunRecorder{coll: client.Database(database).Collection(RunCollection)}
}

func (m *MongoRunRecorder) Record(ctx context.Context, r *Report) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": r.RunID}, reportDocument(r), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

func reportDocument(r *Report) bson.M {
	entries := make(bson.A, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		doc := bson.M{
			"file":       o.Entry.File,
			"table":      o.Entry.Table.String(),
			"mode":       o.Entry.Mode.String(),
			"ok":         o.OK(),
			"durationMs": o.Duration.Milliseconds(),
		}
		if o.Result != nil {
			doc["rows"] = o.Result.Rows
			doc["skipped"] = o.Result.Skipped
			doc["created"] = o.Result.Created
			if o.Result.Reason != "" {
				doc["reason"] = o.Result.Reason
			}
		}
		if o.Err != nil {
			doc["error"] = o.Err.Error()
			doc["kind"] = o.Kind().String()
		}
		entries = append(entries, doc)
	}
	return bson.M{
		"_id":       r.RunID,
		"started":   r.Started,
		"finished":  r.Finished,
		"dryRun":    r.DryRun,
		"succeeded": r.Succeeded(),
		"rows":      r.Rows(),
		"entries":   entries,
	}
}
