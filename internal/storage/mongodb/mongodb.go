package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accounts/internal/domain/models"
	"accounts/internal/storage"

	"github.com/sethvargo/go-retry"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
}

type accountDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	Username     string        `bson:"username"`
	Email        string        `bson:"email"`
	FullName     string        `bson:"fullname"`
	PassHash     []byte        `bson:"pass_hash"`
	Avatar       string        `bson:"avatar"`
	CoverImage   string        `bson:"cover_image,omitempty"`
	RefreshToken string        `bson:"refresh_token,omitempty"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

// New connects to MongoDB, waiting for the server with backoff, and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// users.username unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.username index: %w", err)
	}

	// users.email unique
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping reports whether the server is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// SaveAccount inserts a new account and returns it with its generated ID.
func (s *Storage) SaveAccount(ctx context.Context, acc models.Account) (*models.Account, error) {
	const op = "storage.mongodb.SaveAccount"

	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := accountDoc{
		ID:           bson.NewObjectID(),
		Username:     acc.Username,
		Email:        acc.Email,
		FullName:     acc.FullName,
		PassHash:     acc.PassHash,
		Avatar:       acc.Avatar,
		CoverImage:   acc.CoverImage,
		RefreshToken: acc.RefreshTokenHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.model(), nil
}

// Account retrieves an account by username or email.
func (s *Storage) Account(ctx context.Context, lookup models.Lookup) (*models.Account, error) {
	const op = "storage.mongodb.Account"

	var or bson.A
	if lookup.Username != "" {
		or = append(or, bson.D{{Key: "username", Value: lookup.Username}})
	}
	if lookup.Email != "" {
		or = append(or, bson.D{{Key: "email", Value: lookup.Email}})
	}
	if len(or) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return s.findOne(ctx, op, bson.D{{Key: "$or", Value: or}})
}

// AccountByID retrieves an account by its hex object ID.
func (s *Storage) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	const op = "storage.mongodb.AccountByID"

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return s.findOne(ctx, op, bson.D{{Key: "_id", Value: oid}})
}

// UpdateAccount applies upd atomically. A conditional refresh token swap
// only matches while the stored digest equals upd.IfRefreshTokenHash.
func (s *Storage) UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error) {
	const op = "storage.mongodb.UpdateAccount"

	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	filter := bson.D{{Key: "_id", Value: oid}}
	if upd.IfRefreshTokenHash != nil {
		if *upd.IfRefreshTokenHash == "" {
			filter = append(filter, bson.E{Key: "refresh_token", Value: nil})
		} else {
			filter = append(filter, bson.E{Key: "refresh_token", Value: *upd.IfRefreshTokenHash})
		}
	}

	set := bson.D{{Key: "updated_at", Value: time.Now().UTC().Truncate(time.Millisecond)}}
	var unset bson.D

	if upd.FullName != nil {
		set = append(set, bson.E{Key: "fullname", Value: *upd.FullName})
	}
	if upd.Email != nil {
		set = append(set, bson.E{Key: "email", Value: *upd.Email})
	}
	if upd.Avatar != nil {
		set = append(set, bson.E{Key: "avatar", Value: *upd.Avatar})
	}
	if upd.CoverImage != nil {
		set = append(set, bson.E{Key: "cover_image", Value: *upd.CoverImage})
	}
	if upd.PassHash != nil {
		set = append(set, bson.E{Key: "pass_hash", Value: upd.PassHash})
	}
	if upd.RefreshTokenHash != nil {
		if *upd.RefreshTokenHash == "" {
			unset = append(unset, bson.E{Key: "refresh_token", Value: ""})
		} else {
			set = append(set, bson.E{Key: "refresh_token", Value: *upd.RefreshTokenHash})
		}
	}

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDoc
	err = s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if upd.IfRefreshTokenHash == nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	// The filter missed: either the account is gone or the token moved on.
	n, err := s.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrRefreshTokenMismatch)
}

func (s *Storage) findOne(ctx context.Context, op string, filter bson.D) (*models.Account, error) {
	var doc accountDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return doc.model(), nil
}

func (d *accountDoc) model() *models.Account {
	return &models.Account{
		ID:               d.ID.Hex(),
		Username:         d.Username,
		Email:            d.Email,
		FullName:         d.FullName,
		PassHash:         d.PassHash,
		Avatar:           d.Avatar,
		CoverImage:       d.CoverImage,
		RefreshTokenHash: d.RefreshToken,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
