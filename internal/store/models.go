package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Question struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title          string             `bson:"title" json:"title"`
	Prompt         string             `bson:"prompt" json:"prompt"`
	ExpectedOutput string             `bson:"expectedOutput" json:"expectedOutput"`
}

type TestCaseDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	QuestionID     primitive.ObjectID `bson:"questionId" json:"questionId"`
	Input          string             `bson:"input,omitempty" json:"input,omitempty"`
	ExpectedOutput string             `bson:"expectedOutput" json:"expectedOutput"`
}

// SubmissionRecord is one graded attempt of a student.
type SubmissionRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RollNo     string             `bson:"rollNo" json:"rollNo"`
	QuestionID primitive.ObjectID `bson:"questionId" json:"questionId"`
	Language   string             `bson:"language" json:"language"`
	Success    bool               `bson:"success" json:"success"`
	Passed     int                `bson:"passed" json:"passed"`
	Total      int                `bson:"total" json:"total"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
}
