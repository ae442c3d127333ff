package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection stores reports in one MongoDB collection. Mongo assigns
// ObjectIDs, which are exposed as their hex form.
type MongoCollection struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoCollection connects to uri and verifies the server responds.
func NewMongoCollection(ctx context.Context, uri, database, collection string) (*MongoCollection, error) {
	if uri == "" {
		return nil, errors.New("MONGO_URI environment variable not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect to mongo")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &MongoCollection{client: client, coll: client.Database(database).Collection(collection)}, nil
}

func (c *MongoCollection) Insert(ctx context.Context, doc map[string]interface{}) (string, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.Errorf("unexpected inserted id %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (c *MongoCollection) FindAll(ctx context.Context) ([]Document, error) {
	cur, err := c.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, fromBSON(raw))
	}
	return docs, cur.Err()
}

func (c *MongoCollection) SetField(ctx context.Context, id, field string, value interface{}) (Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Document{}, ErrInvalidID
	}

	var raw bson.M
	err = c.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{field: value}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return fromBSON(raw), nil
}

func (c *MongoCollection) ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func (c *MongoCollection) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// fromBSON lifts _id out of raw and converts driver types to the plain Go
// values the migration decoder understands.
func fromBSON(raw bson.M) Document {
	doc := Document{Data: make(map[string]interface{}, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			if oid, ok := v.(primitive.ObjectID); ok {
				doc.ID = oid.Hex()
			} else if s, ok := v.(string); ok {
				doc.ID = s
			}
			continue
		}
		doc.Data[k] = plainValue(v)
	}
	return doc
}

func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = plainValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = plainValue(e)
		}
		return out
	default:
		return v
	}
}
