package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Mirai3103/quiz-grader/internal/config"
	"github.com/Mirai3103/quiz-grader/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrInvalidID = errors.New("store: invalid id")
)

// MongoStore reads questions and test cases and keeps submission history.
// The collections are injected so callers decide the database layout.
type MongoStore struct {
	questions   *mongo.Collection
	testCases   *mongo.Collection
	submissions *mongo.Collection
}

func NewMongoStore(questions, testCases, submissions *mongo.Collection) *MongoStore {
	return &MongoStore{
		questions:   questions,
		testCases:   testCases,
		submissions: submissions,
	}
}

// Connect dials MongoDB and pings the primary before returning the client.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	timeout := time.Duration(cfg.ConnectTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// FromClient wires a MongoStore to the collections named in cfg.
func FromClient(client *mongo.Client, cfg config.MongoConfig) *MongoStore {
	db := client.Database(cfg.Database)
	return NewMongoStore(
		db.Collection(cfg.QuestionsCollection),
		db.Collection(cfg.TestCasesCollection),
		db.Collection(cfg.SubmissionsCollection),
	)
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

func (s *MongoStore) GetQuestion(ctx context.Context, id string) (*Question, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var q Question
	if err := s.questions.FindOne(ctx, bson.M{"_id": oid}).Decode(&q); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("question %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("find question %s: %w", id, err)
	}
	return &q, nil
}

// ListTestCases returns the question's test cases in insertion order.
func (s *MongoStore) ListTestCases(ctx context.Context, questionID string) ([]models.TestCase, error) {
	oid, err := parseID(questionID)
	if err != nil {
		return nil, err
	}
	cur, err := s.testCases.Find(ctx, bson.M{"questionId": oid}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find test cases for %s: %w", questionID, err)
	}
	var docs []TestCaseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode test cases for %s: %w", questionID, err)
	}

	cases := make([]models.TestCase, 0, len(docs))
	for _, d := range docs {
		cases = append(cases, models.TestCase{
			ID:             d.ID.Hex(),
			Input:          d.Input,
			ExpectedOutput: d.ExpectedOutput,
		})
	}
	return cases, nil
}

func (s *MongoStore) SaveSubmission(ctx context.Context, rec *SubmissionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.submissions.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		rec.ID = oid
	}
	return nil
}

// ListSubmissions returns the student's latest submissions, newest first.
func (s *MongoStore) ListSubmissions(ctx context.Context, rollNo string, limit int64) ([]SubmissionRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := s.submissions.Find(ctx, bson.M{"rollNo": rollNo}, opts)
	if err != nil {
		return nil, fmt.Errorf("find submissions for %s: %w", rollNo, err)
	}
	records := []SubmissionRecord{}
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode submissions for %s: %w", rollNo, err)
	}
	return records, nil
}
