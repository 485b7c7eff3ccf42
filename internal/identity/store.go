package identity

import "context"

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// User is the subset of the platform's users table the hub needs.
type User struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name     string `gorm:"type:varchar(255)"`
}

// TableName specifies the table name for User.
func (User) TableName() string {
	return "users"
}

// Session is the part of an express-session record written by passport.
type Session struct {
	Passport struct {
		User *int64 `json:"user"`
	} `json:"passport"`
}

// UserID returns the user bound to the session, if any.
func (s *Session) UserID() (int64, bool) {
	if s == nil || s.Passport.User == nil {
		return 0, false
	}
	return *s.Passport.User, true
}

// UserStore loads users by primary key.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// SessionStore loads web sessions by session id.
type SessionStore interface {
	GetSession(ctx context.Context, sid string) (*Session, error)
}
