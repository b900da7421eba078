package source

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLoader reads internal records from a MongoDB collection, projecting
// only the fields named by the mapping.
type MongoLoader struct {
	uri        string
	database   string
	collection string
	mapping    FieldMapping
}

// NewMongoLoader creates a MongoLoader.
func NewMongoLoader(uri, database, collection string, mapping FieldMapping) *MongoLoader {
	return &MongoLoader{uri: uri, database: database, collection: collection, mapping: mapping}
}

// Projection returns the find projection: mapped fields included, _id excluded.
func Projection(m FieldMapping) bson.D {
	proj := bson.D{}
	for _, f := range m.SourceFields() {
		proj = append(proj, bson.E{Key: f, Value: 1})
	}
	return append(proj, bson.E{Key: "_id", Value: 0})
}

// Load connects, reads every document and disconnects.
func (l *MongoLoader) Load(ctx context.Context) ([]domain.RawRecord, error) {
	log := logger.FromContext(ctx)
	log.Info().Str("database", l.database).Str("collection", l.collection).Msg("Loading records from MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(l.uri))
	if err != nil {
		return nil, fmt.Errorf("MongoLoader.Load: connect: %w", err)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("MongoLoader: disconnect failed")
		}
	}()

	opts := options.Find()
	if len(l.mapping) > 0 {
		opts.SetProjection(Projection(l.mapping))
	}

	cursor, err := client.Database(l.database).Collection(l.collection).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("MongoLoader.Load: find: %w", err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("MongoLoader.Load: decoding documents: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, domain.RawRecord(d))
	}

	records = ApplyMapping(ctx, records, l.mapping, "internal")
	log.Info().Int("records", len(records)).Msg("Loaded records from MongoDB")
	return records, nil
}
