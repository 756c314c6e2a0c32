package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds the connection settings for MongoStore.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// MongoStore reads and updates session records in a MongoDB collection.
type MongoStore struct {
	client    *mongo.Client
	coll      *mongo.Collection
	opTimeout time.Duration
}

// DialMongo connects and pings the server before returning a store.
func DialMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Collection == "" {
		cfg.Collection = "sessions"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Info("connected to MongoDB", "database", cfg.Database, "collection", cfg.Collection)
	return &MongoStore{
		client:    client,
		coll:      client.Database(cfg.Database).Collection(cfg.Collection),
		opTimeout: cfg.OpTimeout,
	}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

type sessionDocument struct {
	ID     interface{} `bson:"_id"`
	Record `bson:",inline"`
}

func (s *MongoStore) GetSession(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var doc sessionDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": documentID(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify("get session", err)
	}
	rec := doc.Record
	rec.ID = id
	return &rec, nil
}

// SetActiveStartedAt only writes when the field is absent or null, so
// concurrent writers converge on the first value.
func (s *MongoStore) SetActiveStartedAt(ctx context.Context, id string, ts time.Time) (time.Time, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	filter := bson.M{
		"_id": documentID(id),
		"$or": bson.A{
			bson.M{"activeStartedAt": bson.M{"$exists": false}},
			bson.M{"activeStartedAt": nil},
		},
	}
	update := bson.M{"$set": bson.M{"activeStartedAt": ts.UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc sessionDocument
	err := s.coll.FindOneAndUpdate(opCtx, filter, update, opts).Decode(&doc)
	switch {
	case err == nil:
		if doc.ActiveStartedAt == nil {
			return time.Time{}, fmt.Errorf("set active start: field missing after update")
		}
		return doc.ActiveStartedAt.UTC(), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		// Already started, or no such record.
		rec, err := s.GetSession(ctx, id)
		if err != nil {
			return time.Time{}, err
		}
		if rec.ActiveStartedAt == nil {
			return time.Time{}, Transient(fmt.Errorf("set active start: concurrent update on %s", id))
		}
		return rec.ActiveStartedAt.UTC(), nil
	default:
		return time.Time{}, classify("set active start", err)
	}
}

func (s *MongoStore) SetStatus(ctx context.Context, id string, status Status) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": documentID(id)}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return classify("set status", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// documentID maps a room id onto the record's _id. Booking records created
// by the web product carry ObjectIDs.
func documentID(id string) interface{} {
	if len(id) == 24 {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			return oid
		}
	}
	return id
}

func classify(op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}
