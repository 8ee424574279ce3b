// Package mongodb implements the store on MongoDB. WithTx needs a replica set
// because it runs on a session transaction.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

type Storage struct {
	client *mongo.Client
	users  *mongo.Collection
	tokens *mongo.Collection
	inTx   bool
	now    func() time.Time
}

var _ store.Store = (*Storage)(nil)

type userDoc struct {
	ID         string    `bson:"_id"`
	Email      string    `bson:"email"`
	Password   string    `bson:"password"`
	FirstName  string    `bson:"first_name"`
	SecondName string    `bson:"second_name"`
	CreatedAt  time.Time `bson:"created_at"`
}

type tokenDoc struct {
	ID        string    `bson:"_id"`
	Value     string    `bson:"token"`
	Revoked   bool      `bson:"revoked"`
	UserID    string    `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// New connects, pings and creates the indexes the store relies on.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client: client,
		users:  db.Collection("users"),
		tokens: db.Collection("tokens"),
		now:    time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}
	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	_, err = s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "revoked", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("tokens indexes: %w", err)
	}
	return nil
}

func (s *Storage) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	const op = "mongodb.CreateUser"

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	}
	_, err := s.users.InsertOne(ctx, userDoc{
		ID:         u.ID,
		Email:      u.Email,
		Password:   u.Password,
		FirstName:  u.FirstName,
		SecondName: u.SecondName,
		CreatedAt:  u.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "mongodb.UserByEmail", bson.D{{Key: "email", Value: email}})
}

func (s *Storage) UserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, "mongodb.UserByID", bson.D{{Key: "_id", Value: id}})
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.D) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &models.User{
		ID:         doc.ID,
		Email:      doc.Email,
		Password:   doc.Password,
		FirstName:  doc.FirstName,
		SecondName: doc.SecondName,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const op = "mongodb.UpdatePassword"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "password", Value: passwordHash}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	const op = "mongodb.DeleteUser"

	res, err := s.users.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) SaveToken(ctx context.Context, userID, value string) (*models.Token, error) {
	const op = "mongodb.SaveToken"

	doc := tokenDoc{
		ID:        uuid.NewString(),
		Value:     value,
		UserID:    userID,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.tokens.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrDuplicateCredential)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t := doc.model()
	return &t, nil
}

func (s *Storage) ValidTokens(ctx context.Context, userID string) ([]models.Token, error) {
	const op = "mongodb.ValidTokens"

	cur, err := s.tokens.Find(ctx, bson.D{
		{Key: "user_id", Value: userID},
		{Key: "revoked", Value: false},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var docs []tokenDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]models.Token, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// RevokeAll flips every live credential of userID in one transaction.
// UpdateMany alone is applied per document, so outside WithTx it opens its
// own transaction.
func (s *Storage) RevokeAll(ctx context.Context, userID string) (int64, error) {
	const op = "mongodb.RevokeAll"

	if !s.inTx {
		var n int64
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
			var err error
			n, err = tx.RevokeAll(ctx, userID)
			return err
		})
		return n, err
	}

	res, err := s.tokens.UpdateMany(ctx,
		bson.D{{Key: "user_id", Value: userID}, {Key: "revoked", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.ModifiedCount, nil
}

func (s *Storage) TokenByValue(ctx context.Context, value string) (*models.Token, error) {
	const op = "mongodb.TokenByValue"

	var doc tokenDoc
	if err := s.tokens.FindOne(ctx, bson.D{{Key: "token", Value: value}}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, store.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	t := doc.model()
	return &t, nil
}

func (s *Storage) RevokeToken(ctx context.Context, value string) error {
	const op = "mongodb.RevokeToken"

	res, err := s.tokens.UpdateOne(ctx,
		bson.D{{Key: "token", Value: value}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked", Value: true}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrTokenNotFound)
	}
	return nil
}

func (s *Storage) DeleteTokens(ctx context.Context, userID string) (int64, error) {
	const op = "mongodb.DeleteTokens"

	res, err := s.tokens.DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.DeletedCount, nil
}

func (s *Storage) PurgeRevoked(ctx context.Context) (int64, error) {
	const op = "mongodb.PurgeRevoked"

	res, err := s.tokens.DeleteMany(ctx, bson.D{{Key: "revoked", Value: true}})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.DeletedCount, nil
}

// WithTx runs fn inside a session transaction. Every call made with the
// callback's ctx joins it. The driver may retry fn on transient errors.
func (s *Storage) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	const op = "mongodb.WithTx"

	if s.inTx {
		return fn(ctx, s)
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer sess.EndSession(ctx)

	txView := *s
	txView.inTx = true

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		return nil, fn(sc, &txView)
	})
	return err
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects with a bounded timeout.
func (s *Storage) Close() error {
	if s.inTx {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (d tokenDoc) model() models.Token {
	return models.Token{
		ID:        d.ID,
		Value:     d.Value,
		Revoked:   d.Revoked,
		UserID:    d.UserID,
		CreatedAt: d.CreatedAt,
	}
}
