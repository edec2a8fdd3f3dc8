package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mosaicworks/signon/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidClaim indicates the claim did not carry a usable subject and email.
	ErrInvalidClaim = errors.New("users: claim missing subject or email")
	// ErrSubjectTaken indicates another user is already linked to the subject.
	// A create racing a concurrent registration for the same subject surfaces
	// this instead of writing a duplicate.
	ErrSubjectTaken = errors.New("users: subject already linked to a user")
)

// DirectoryConfig describes the dependencies required by the user directory.
type DirectoryConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Directory looks up and provisions user records keyed by their external
// Google subject. It never retries storage failures; retry policy belongs to
// the caller.
type Directory struct {
	db     *gorm.DB
	ids    IDProvider
	now    func() time.Time
	logger *zap.Logger
}

// NewDirectory constructs the directory over an established database handle.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		db:     cfg.Database,
		ids:    ids,
		now:    clock,
		logger: logger,
	}, nil
}

// FindBySubject returns the user record linked to the given Google subject, or
// nil when no such user exists. Absence is not an error.
func (d *Directory) FindBySubject(ctx context.Context, subject string) (*UserRecord, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrInvalidClaim
	}

	var link ProviderLink
	err := d.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", ProviderGoogle, subject).
		First(&link).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: subject lookup failed: %w", err)
	}

	var profile UserProfile
	err = d.db.WithContext(ctx).
		Where("user_id = ?", link.UserID).
		First(&profile).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A link without its profile means the user never finished
		// registering; treat as absent rather than half-registered.
		d.logger.Warn("provider link without matching profile",
			zap.String("subject", subject),
			zap.String("user_id", link.UserID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: profile lookup failed: %w", err)
	}

	return &UserRecord{
		UserID:    profile.UserID,
		GoogleSub: link.Subject,
		Email:     profile.Email,
		CreatedAt: profile.CreatedAt,
		UpdatedAt: profile.UpdatedAt,
	}, nil
}

// Exists reports whether a user record is linked to the given subject.
func (d *Directory) Exists(ctx context.Context, subject string) (bool, error) {
	record, err := d.FindBySubject(ctx, subject)
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// Create provisions a new user for the verified claim. The profile and
// provider-link rows are written in one transaction sharing a single creation
// timestamp. Create does not check for an existing subject first; a concurrent
// duplicate fails the link insert and is reported as ErrSubjectTaken.
func (d *Directory) Create(ctx context.Context, claim auth.GoogleClaims) (CreatedUser, error) {
	subject := strings.TrimSpace(claim.Subject)
	email := strings.TrimSpace(claim.Email)
	if subject == "" || email == "" {
		return CreatedUser{}, ErrInvalidClaim
	}

	userID, err := d.ids.NewID()
	if err != nil {
		return CreatedUser{}, fmt.Errorf("users: id generation failed: %w", err)
	}

	createdAt := d.now().UTC()
	profile := UserProfile{
		UserID:    userID,
		Email:     email,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	link := ProviderLink{
		Provider:  ProviderGoogle,
		Subject:   subject,
		UserID:    userID,
		Email:     email,
		CreatedAt: createdAt,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
		return tx.Create(&profile).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return CreatedUser{}, ErrSubjectTaken
		}
		return CreatedUser{}, fmt.Errorf("users: create failed: %w", err)
	}

	d.logger.Info("user created",
		zap.String("user_id", userID),
		zap.String("subject", subject))

	return CreatedUser{UserID: userID, CreatedAt: createdAt}, nil
}
