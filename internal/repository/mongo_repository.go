package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_ucp/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// checkoutDocument keeps the queryable fields next to the JSON body so the
// wire shape (including unknown extension fields) survives a round trip.
type checkoutDocument struct {
	ID        string     `bson:"_id"`
	Version   int64      `bson:"version"`
	Status    string     `bson:"status"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
	Body      []byte     `bson:"body"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

type mongoCheckoutRepository struct {
	collection *mongo.Collection
}

func NewMongoCheckoutRepository(db *mongo.Database) *mongoCheckoutRepository {
	return &mongoCheckoutRepository{
		collection: db.Collection("checkout_sessions"),
	}
}

func (m *mongoCheckoutRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
		},
		{
			// finished sessions are kept for 30 days
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(30 * 24 * 60 * 60),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *mongoCheckoutRepository) CreateCheckout(ctx context.Context, c *domain.Checkout) error {
	doc, err := toDocument(c, 1)
	if err != nil {
		return err
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCheckoutExists
		}
		return fmt.Errorf("failed to insert checkout: %w", err)
	}
	c.Version = 1
	return nil
}

func (m *mongoCheckoutRepository) GetCheckout(ctx context.Context, id string) (*domain.Checkout, error) {
	var doc checkoutDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCheckoutNotFound
		}
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}

	var c domain.Checkout
	if err := json.Unmarshal(doc.Body, &c); err != nil {
		return nil, fmt.Errorf("failed to decode checkout %s: %w", id, err)
	}
	c.Version = doc.Version
	return &c, nil
}

func (m *mongoCheckoutRepository) SaveCheckout(ctx context.Context, c *domain.Checkout, expectedVersion int64) error {
	doc, err := toDocument(c, expectedVersion+1)
	if err != nil {
		return err
	}

	filter := bson.M{"_id": c.ID, "version": expectedVersion}
	result, err := m.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to save checkout: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := m.collection.CountDocuments(ctx, bson.M{"_id": c.ID})
		if err != nil {
			return fmt.Errorf("failed to check checkout: %w", err)
		}
		if count == 0 {
			return ErrCheckoutNotFound
		}
		return ErrVersionConflict
	}

	c.Version = expectedVersion + 1
	return nil
}

func (m *mongoCheckoutRepository) ListExpiredCheckouts(ctx context.Context, now time.Time, limit int) ([]string, error) {
	statuses := make([]string, 0, len(expirable))
	for _, s := range expirable {
		statuses = append(statuses, string(s))
	}

	filter := bson.M{
		"status":     bson.M{"$in": statuses},
		"expires_at": bson.M{"$lte": now},
	}
	ids, err := m.findIDs(ctx, filter, "expires_at", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired checkouts: %w", err)
	}
	return ids, nil
}

func (m *mongoCheckoutRepository) ListStuckCheckouts(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	filter := bson.M{
		"status":     string(domain.CheckoutStatusCompleteInProgress),
		"updated_at": bson.M{"$lt": updatedBefore},
	}
	ids, err := m.findIDs(ctx, filter, "updated_at", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck checkouts: %w", err)
	}
	return ids, nil
}

func (m *mongoCheckoutRepository) findIDs(ctx context.Context, filter bson.M, sortKey string, limit int) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: sortKey, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func toDocument(c *domain.Checkout, version int64) (*checkoutDocument, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout: %w", err)
	}
	return &checkoutDocument{
		ID:        c.ID,
		Version:   version,
		Status:    string(c.Status),
		ExpiresAt: c.ExpiresAt,
		Body:      body,
		UpdatedAt: time.Now().UTC(),
	}, nil
}
