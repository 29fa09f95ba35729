package session

import "context"

// Session is what a handler may know about the caller.
type Session interface {
	Authenticated() bool
	RollNo() string
}

type Anonymous struct{}

func (Anonymous) Authenticated() bool { return false }
func (Anonymous) RollNo() string      { return "" }

// Student is a logged-in caller identified by roll number.
type Student struct {
	Roll  string
	Token string
}

func (s Student) Authenticated() bool { return s.Roll != "" }
func (s Student) RollNo() string      { return s.Roll }

// Store resolves session tokens.
type Store interface {
	Get(ctx context.Context, token string) (Session, error)
	Create(ctx context.Context, rollNo string) (string, error)
	Delete(ctx context.Context, token string) error
}
