package implementation

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Repository/Interfaces"
)

const mongoOpTimeout = 3 * time.Second

// MongoTelemetryRepository implements interfaces.TelemetryRepository on MongoDB.
// Integer ids come from the counters collection. Device creation and the
// reading insert are two writes, not a transaction; a crash between them
// leaves a device without readings, which is harmless.
type MongoTelemetryRepository struct {
	client    *mongo.Client
	devices   *mongo.Collection
	telemetry *mongo.Collection
	errs      *mongo.Collection
	counters  *mongo.Collection
	now       func() time.Time
}

var _ interfaces.TelemetryRepository = (*MongoTelemetryRepository)(nil)

func NewMongoTelemetryRepository(client *mongo.Client, db *mongo.Database) *MongoTelemetryRepository {
	return &MongoTelemetryRepository{
		client:    client,
		devices:   db.Collection("devices"),
		telemetry: db.Collection("telemetry"),
		errs:      db.Collection("errors"),
		counters:  db.Collection("counters"),
		now:       time.Now,
	}
}

// WithClock replaces the clock used to stamp error documents
func (r *MongoTelemetryRepository) WithClock(now func() time.Time) *MongoTelemetryRepository {
	r.now = now
	return r
}

// EnsureIndexes creates the unique device index and the ordering indexes
func (r *MongoTelemetryRepository) EnsureIndexes(ctx context.Context) error {
	if _, err := r.devices.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "device_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return mqterrors.Storage("create device index", err)
	}
	if _, err := r.telemetry.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: -1}, {Key: "id", Value: -1}},
	}); err != nil {
		return mqterrors.Storage("create telemetry index", err)
	}
	if _, err := r.errs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "ts", Value: -1}, {Key: "id", Value: -1}}},
		{Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "ts", Value: -1}}},
	}); err != nil {
		return mqterrors.Storage("create error indexes", err)
	}
	return nil
}

func (r *MongoTelemetryRepository) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

// Device operations

func (r *MongoTelemetryRepository) EnsureDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	device, err := r.ensureDevice(ctx, deviceID)
	if err != nil {
		return nil, mqterrors.Storage("ensure device", err)
	}
	return device, nil
}

func (r *MongoTelemetryRepository) ensureDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error) {
	var device mqtmodels.Device
	err := r.devices.FindOne(ctx, bson.M{"device_id": deviceID}).Decode(&device)
	if err == nil {
		return &device, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	id, err := r.nextID(ctx, "devices")
	if err != nil {
		return nil, err
	}
	_, err = r.devices.UpdateOne(ctx,
		bson.M{"device_id": deviceID},
		bson.M{"$setOnInsert": bson.M{"id": id}},
		options.Update().SetUpsert(true),
	)
	// a concurrent upsert of the same device may lose the unique-index race
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}

	if err := r.devices.FindOne(ctx, bson.M{"device_id": deviceID}).Decode(&device); err != nil {
		return nil, err
	}
	return &device, nil
}

// Reading operations

func (r *MongoTelemetryRepository) InsertTelemetry(ctx context.Context, deviceID string, ts int64, temperature, humidity float64) (*mqtmodels.TelemetryReading, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	if _, err := r.ensureDevice(ctx, deviceID); err != nil {
		return nil, mqterrors.Storage("ensure device", err)
	}

	id, err := r.nextID(ctx, "telemetry")
	if err != nil {
		return nil, mqterrors.Storage("allocate telemetry id", err)
	}

	reading := mqtmodels.TelemetryReading{
		ID:          id,
		DeviceID:    deviceID,
		Ts:          ts,
		Temperature: temperature,
		Humidity:    humidity,
	}
	if _, err := r.telemetry.InsertOne(ctx, reading); err != nil {
		return nil, mqterrors.Storage("insert telemetry", err)
	}
	return &reading, nil
}

func (r *MongoTelemetryRepository) LatestFor(ctx context.Context, deviceID string) (*mqtmodels.TelemetryReading, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var reading mqtmodels.TelemetryReading
	opts := options.FindOne().SetSort(bson.D{{Key: "ts", Value: -1}, {Key: "id", Value: -1}})
	err := r.telemetry.FindOne(ctx, bson.M{"device_id": deviceID}, opts).Decode(&reading)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, mqterrors.Storage("latest telemetry", err)
	}
	return &reading, nil
}

func (r *MongoTelemetryRepository) WindowFor(ctx context.Context, deviceID string, limit int) ([]mqtmodels.TelemetryReading, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	limit = interfaces.ClampLimit(limit, interfaces.MaxWindowLimit)
	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: -1}, {Key: "id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.telemetry.Find(ctx, bson.M{"device_id": deviceID}, opts)
	if err != nil {
		return nil, mqterrors.Storage("telemetry window", err)
	}
	readings := make([]mqtmodels.TelemetryReading, 0, limit)
	if err := cursor.All(ctx, &readings); err != nil {
		return nil, mqterrors.Storage("telemetry window", err)
	}

	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}
	return readings, nil
}

func (r *MongoTelemetryRepository) CountTelemetry(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	count, err := r.telemetry.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, mqterrors.Storage("count telemetry", err)
	}
	return count, nil
}

// Error log operations

func (r *MongoTelemetryRepository) RecordError(ctx context.Context, reason string, deviceID *string) (*mqtmodels.IngestError, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id, err := r.nextID(ctx, "errors")
	if err != nil {
		return nil, mqterrors.Storage("allocate error id", err)
	}

	entry := mqtmodels.IngestError{
		ID:       id,
		DeviceID: deviceID,
		Ts:       r.now().Unix(),
		Reason:   mqtmodels.TruncateReason(reason),
	}
	if _, err := r.errs.InsertOne(ctx, entry); err != nil {
		return nil, mqterrors.Storage("record error", err)
	}
	return &entry, nil
}

func (r *MongoTelemetryRepository) RecentErrors(ctx context.Context, deviceID *string, limit int) ([]mqtmodels.IngestError, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	limit = interfaces.ClampLimit(limit, interfaces.MaxErrorsLimit)
	filter := bson.M{}
	if deviceID != nil {
		filter["device_id"] = *deviceID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "ts", Value: -1}, {Key: "id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.errs.Find(ctx, filter, opts)
	if err != nil {
		return nil, mqterrors.Storage("recent errors", err)
	}
	entries := make([]mqtmodels.IngestError, 0, limit)
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, mqterrors.Storage("recent errors", err)
	}
	return entries, nil
}

// Lifecycle

func (r *MongoTelemetryRepository) Ping(ctx context.Context) error {
	return mqterrors.Storage("ping", r.client.Ping(ctx, readpref.Primary()))
}

func (r *MongoTelemetryRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
