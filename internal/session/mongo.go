package session

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	logging "github.com/ipfs/go-log/v2"
)

var mongoLog = logging.Logger("session/mongo")

// MongoStore is a Store backed by a MongoDB collection, one document per
// session, with change streams for snapshot delivery. Change streams require
// the server to run as a replica set.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore wraps an existing client.
func NewMongoStore(client *mongo.Client, db, coll string) *MongoStore {
	return &MongoStore{coll: client.Database(db).Collection(coll)}
}

// OpenMongoStore connects to uri and uses the "calls" collection of db.
func OpenMongoStore(ctx context.Context, uri, db string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", ErrUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: mongo ping: %v", ErrUnavailable, err)
	}
	return NewMongoStore(client, db, "calls"), nil
}

// Create inserts the session document.
func (m *MongoStore) Create(ctx context.Context, s *CallSession) error {
	if _, err := m.coll.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateFields applies a partial $set. A status write to connected stamps
// start_time through $ifNull, so only the first such write sets it.
func (m *MongoStore) UpdateFields(ctx context.Context, id string, f Fields) error {
	set := bson.D{}
	if f.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*f.Status)})
		if *f.Status == StatusConnected {
			set = append(set, bson.E{Key: "start_time", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$start_time", "$$NOW"}},
			}})
		}
	}
	if f.CallerSDP != nil {
		set = append(set, bson.E{Key: "caller_sdp", Value: *f.CallerSDP})
	}
	if f.ReceiverSDP != nil {
		set = append(set, bson.E{Key: "receiver_sdp", Value: *f.ReceiverSDP})
	}
	if len(set) == 0 {
		return nil
	}

	res, err := m.coll.UpdateByID(ctx, id, mongo.Pipeline{bson.D{{Key: "$set", Value: set}}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendCandidates pushes tokens onto the candidate array in order.
func (m *MongoStore) AppendCandidates(ctx context.Context, id string, cands ...string) error {
	if len(cands) == 0 {
		return nil
	}
	res, err := m.coll.UpdateByID(ctx, id, bson.D{
		{Key: "$push", Value: bson.D{
			{Key: "ice_candidates", Value: bson.D{{Key: "$each", Value: cands}}},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscribe opens a change stream filtered to id and forwards the full
// document after every change. The current value is read and delivered first.
func (m *MongoStore) Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "documentKey._id", Value: id},
	}}}}
	cs, err := m.coll.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: watch: %v", ErrUnavailable, err)
	}

	out := make(chan Snapshot, snapshotBuf)
	subCtx, cancelCtx := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer cs.Close(context.Background())

		cur, err := m.get(subCtx, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			select {
			case out <- Snapshot{Session: cur}:
			case <-subCtx.Done():
				return
			}
		}

		for cs.Next(subCtx) {
			var ev struct {
				OperationType string       `bson:"operationType"`
				FullDocument  *CallSession `bson:"fullDocument"`
			}
			if err := cs.Decode(&ev); err != nil {
				mongoLog.Warnf("session %s: decode change: %v", id, err)
				continue
			}
			snap := Snapshot{Session: ev.FullDocument}
			if ev.OperationType == "delete" {
				snap.Session = nil
			}
			select {
			case out <- snap:
			case <-subCtx.Done():
				return
			}
		}
	}()

	cancel := func() { cancelCtx() }
	return out, cancel, nil
}

func (m *MongoStore) get(ctx context.Context, id string) (*CallSession, error) {
	var s CallSession
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &s, nil
}

// Close disconnects the underlying client.
func (m *MongoStore) Close() error {
	return m.coll.Database().Client().Disconnect(context.Background())
}
