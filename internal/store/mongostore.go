package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/apipulse/apipulse/pkg/models"
)

const (
	hitsCollection    = "api_hits"
	usersCollection   = "users"
	clientsCollection = "clients"
	keysCollection    = "api_keys"
)

// MongoStore implements the Store interface on a MongoDB database.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore creates a MongoStore.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// Ping checks database connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// EnsureIndexes creates every index the access patterns depend on. Hits are
// expired by the TTL index after the retention window; there is no manual
// deletion path.
func (s *MongoStore) EnsureIndexes(ctx context.Context, retention time.Duration) error {
	hits := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "eventId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_id"),
		},
		{
			Keys: bson.D{
				{Key: "clientId", Value: 1},
				{Key: "serviceName", Value: 1},
				{Key: "endpoint", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("client_service_endpoint_time"),
		},
		{
			Keys: bson.D{
				{Key: "clientId", Value: 1},
				{Key: "timestamp", Value: -1},
				{Key: "statusCode", Value: 1},
			},
			Options: options.Index().SetName("client_time_status"),
		},
		{
			Keys: bson.D{
				{Key: "apiKeyId", Value: 1},
				{Key: "timestamp", Value: -1},
			},
			Options: options.Index().SetName("apikey_time"),
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(retention.Seconds())).
				SetName("hit_ttl"),
		},
	}
	if _, err := s.db.Collection(hitsCollection).Indexes().CreateMany(ctx, hits); err != nil {
		return fmt.Errorf("create hit indexes: %w", err)
	}

	users := []mongo.IndexModel{
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_username")},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		{Keys: bson.D{{Key: "clientId", Value: 1}, {Key: "isActive", Value: 1}}, Options: options.Index().SetName("client_active")},
	}
	if _, err := s.db.Collection(usersCollection).Indexes().CreateMany(ctx, users); err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}

	keys := []mongo.IndexModel{
		{Keys: bson.D{{Key: "keyPrefix", Value: 1}}, Options: options.Index().SetName("key_prefix")},
		{Keys: bson.D{{Key: "clientId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("client_created")},
	}
	if _, err := s.db.Collection(keysCollection).Indexes().CreateMany(ctx, keys); err != nil {
		return fmt.Errorf("create api key indexes: %w", err)
	}

	return nil
}

// --- Hits ---

// InsertHit persists one hit. A re-delivered event whose eventId is already
// stored returns ErrDuplicateEvent and leaves the original document intact.
func (s *MongoStore) InsertHit(ctx context.Context, hit *models.Hit) error {
	_, err := s.db.Collection(hitsCollection).InsertOne(ctx, hit)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert hit: %w", err)
	}
	return nil
}

func (s *MongoStore) GetHitByEventID(ctx context.Context, eventID string) (*models.Hit, error) {
	var hit models.Hit
	err := s.db.Collection(hitsCollection).FindOne(ctx, bson.M{"eventId": eventID}).Decode(&hit)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hit by event id: %w", err)
	}
	return &hit, nil
}

func (s *MongoStore) ListHitsByClient(ctx context.Context, filter HitFilter) ([]*models.Hit, error) {
	if filter.ClientID == "" {
		return nil, fmt.Errorf("client_id: is required")
	}

	query := bson.M{"clientId": filter.ClientID}
	if filter.ServiceName != "" {
		query["serviceName"] = filter.ServiceName
	}
	if filter.Endpoint != "" {
		query["endpoint"] = filter.Endpoint
	}
	if filter.StatusCode != 0 {
		query["statusCode"] = filter.StatusCode
	}
	if window := timeWindow(filter.From, filter.To); window != nil {
		query["timestamp"] = window
	}

	limit := int64(filter.Limit)
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.db.Collection(hitsCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list hits by client: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []*models.Hit
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	return hits, nil
}

func (s *MongoStore) ListHitsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]*models.Hit, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(hitsCollection).Find(ctx, bson.M{"apiKeyId": apiKeyID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list hits by api key: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []*models.Hit
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("decode hits: %w", err)
	}
	return hits, nil
}

func timeWindow(from, to time.Time) bson.M {
	window := bson.M{}
	if !from.IsZero() {
		window["$gte"] = from
	}
	if !to.IsZero() {
		window["$lte"] = to
	}
	if len(window) == 0 {
		return nil
	}
	return window
}

// --- Users ---

// CreateUser persists a user as-is. Validation and credential hashing happen
// in models.NewUser; nothing here transforms the document.
func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.Collection(usersCollection).InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, query bson.M) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, query).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// --- Clients ---

func (s *MongoStore) CreateClient(ctx context.Context, client *models.Client) error {
	_, err := s.db.Collection(clientsCollection).InsertOne(ctx, client)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *MongoStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	err := s.db.Collection(clientsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&client)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &client, nil
}

// --- API Keys ---

func (s *MongoStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.db.Collection(keysCollection).InsertOne(ctx, key)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *MongoStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	cursor, err := s.db.Collection(keysCollection).Find(ctx, bson.M{
		"keyPrefix": prefix,
		"revokedAt": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, fmt.Errorf("get api keys by prefix: %w", err)
	}
	defer cursor.Close(ctx)

	var keys []*models.APIKey
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, fmt.Errorf("decode api keys: %w", err)
	}
	return keys, nil
}

func (s *MongoStore) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.Collection(keysCollection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"lastUsedAt": now, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAPIKeys(ctx context.Context, clientID string) ([]*models.APIKey, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.db.Collection(keysCollection).Find(ctx, bson.M{
		"clientId":  clientID,
		"revokedAt": bson.M{"$exists": false},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer cursor.Close(ctx)

	var keys []*models.APIKey
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, fmt.Errorf("decode api keys: %w", err)
	}
	return keys, nil
}

func (s *MongoStore) RevokeAPIKey(ctx context.Context, id, clientID string) error {
	now := time.Now().UTC()
	res, err := s.db.Collection(keysCollection).UpdateOne(ctx,
		bson.M{"_id": id, "clientId": clientID, "revokedAt": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"revokedAt": now, "updatedAt": now}},
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
