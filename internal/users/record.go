package users

import "time"

// ProviderGoogle is the only identity provider the directory links against.
const ProviderGoogle = "google"

// UserProfile is the durable profile item of a registered user.
type UserProfile struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:64;not null"`
	Email     string    `gorm:"column:email;size:320;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing user profiles.
func (UserProfile) TableName() string {
	return "user_profiles"
}

// ProviderLink associates a local user with one external identity subject.
// The composite primary key makes a second link for the same subject a
// constraint violation rather than a silent duplicate.
type ProviderLink struct {
	Provider  string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject   string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index"`
	Email     string    `gorm:"column:email;size:320"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing provider links.
func (ProviderLink) TableName() string {
	return "user_provider_links"
}

// UserRecord is the directory's view of a registered user, assembled from the
// profile and provider-link items.
type UserRecord struct {
	UserID    string
	GoogleSub string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreatedUser reports the outcome of a successful create.
type CreatedUser struct {
	UserID    string
	CreatedAt time.Time
}
