package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	collUsers     = "users"
	collMessages  = "chat_messages"
	collQuestions = "questions"
	collAttempts  = "attempts"
	collTaxonomy  = "taxonomy"
)

// MongoStore is the MongoDB backend.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri, verifies the connection and creates the
// indexes the queries rely on.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collMessages: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collAttempts: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		collQuestions: {
			{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "topic", Value: 1}}},
			{Keys: bson.D{{Key: "year", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u *User) error {
	prepareUser(u, time.Now().UTC())
	if _, err := s.db.Collection(collUsers).InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) UserByID(ctx context.Context, id string) (*User, error) {
	return findOne[User](ctx, s.db.Collection(collUsers), bson.M{"_id": id})
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return findOne[User](ctx, s.db.Collection(collUsers), bson.M{"email": email})
}

func (s *MongoStore) UpdateUser(ctx context.Context, u *User) error {
	prepareUser(u, time.Now().UTC())
	res, err := s.db.Collection(collUsers).ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, m *ChatMessage) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(collMessages).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) RecentMessages(ctx context.Context, userID string, limit int) ([]ChatMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	msgs, err := findAll[ChatMessage](ctx, s.db.Collection(collMessages), bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	// Newest first from the query; callers want conversation order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MongoStore) ClearMessages(ctx context.Context, userID string) (int, error) {
	res, err := s.db.Collection(collMessages).DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStore) PutQuestion(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = newID()
	}
	_, err := s.db.Collection(collQuestions).ReplaceOne(ctx, bson.M{"_id": q.ID}, q, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}
	return nil
}

func (s *MongoStore) Question(ctx context.Context, id string) (*Question, error) {
	return findOne[Question](ctx, s.db.Collection(collQuestions), bson.M{"_id": id})
}

func (s *MongoStore) ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, int, error) {
	f = f.Normalize()
	filter := questionFilter(f)
	coll := s.db.Collection(collQuestions)

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "year", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))
	qs, err := findAll[Question](ctx, coll, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return qs, int(total), nil
}

// questionFilter translates f into a query. Text fields match
// case-insensitively; user input is always quoted before use as a pattern.
func questionFilter(f QuestionFilter) bson.M {
	filter := bson.M{}
	exact := func(field, value string) {
		if value != "" {
			filter[field] = bson.M{"$regex": "^" + regexp.QuoteMeta(value) + "$", "$options": "i"}
		}
	}
	exact("subject", f.Subject)
	exact("topic", f.Topic)
	exact("difficulty", f.Difficulty)
	if f.Year != 0 {
		filter["year"] = f.Year
	}
	if f.Search != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"prompt": pattern},
			bson.M{"tags": pattern},
		}
	}
	return filter
}

func (s *MongoStore) CreateAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.Collection(collAttempts).InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAttempts(ctx context.Context, userID string, limit int) ([]Attempt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return findAll[Attempt](ctx, s.db.Collection(collAttempts), bson.M{"user_id": userID}, opts)
}

func (s *MongoStore) PutTaxonomy(ctx context.Context, entries []TaxonomyEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for _, e := range entries {
		prepareEntry(&e)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetReplacement(e).
			SetUpsert(true))
	}
	if _, err := s.db.Collection(collTaxonomy).BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("write taxonomy: %w", err)
	}
	return nil
}

func (s *MongoStore) ListTaxonomy(ctx context.Context, subject string) ([]TaxonomyEntry, error) {
	filter := bson.M{}
	if subject != "" {
		filter["subject"] = bson.M{"$regex": "^" + regexp.QuoteMeta(subject) + "$", "$options": "i"}
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return findAll[TaxonomyEntry](ctx, s.db.Collection(collTaxonomy), filter, opts)
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) (*T, error) {
	var v T
	if err := coll.FindOne(ctx, filter).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find in %s: %w", coll.Name(), err)
	}
	return &v, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll.Name(), err)
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll.Name(), err)
	}
	return out, nil
}

var _ Store = (*MongoStore)(nil)
