package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/prospectflow/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveUser returns the canonical user for the session claims, recording the identity
// the first time the provider and subject pair is seen.
func (s *Service) ResolveUser(ctx context.Context, claims auth.SessionClaims) (User, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if user, ok := cached.(User); ok && sameProfile(user, claims) {
			return user, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where("provider = ? AND subject = ?", provider, subject).Take(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	default:
		updates := map[string]any{"last_seen_at": s.now()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		err := db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error
		if err != nil {
			return User{}, err
		}
	}

	user := User{ID: identity.UserID, Email: identity.Email, DisplayName: identity.DisplayName}
	s.cache.Store(cacheKey, user)
	return user, nil
}

// sameProfile reports whether the claims carry nothing newer than the cached user.
func sameProfile(user User, claims auth.SessionClaims) bool {
	email := normalize(claims.UserEmail)
	display := normalize(claims.UserDisplayName)
	return (email == "" || email == user.Email) && (display == "" || display == user.DisplayName)
}

// DisplayNames returns a label per known user id. Unknown ids are absent from the result.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	wanted := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		id = normalize(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return names, nil
	}

	var identities []Identity
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", wanted).
		Order("last_seen_at DESC").
		Find(&identities).Error
	if err != nil {
		return nil, err
	}
	for _, identity := range identities {
		if _, ok := names[identity.UserID]; ok {
			continue
		}
		names[identity.UserID] = User{ID: identity.UserID, Email: identity.Email, DisplayName: identity.DisplayName}.Label()
	}
	return names, nil
}

// AuthorName renders an activity author, using SystemAuthorName when there is none.
func AuthorName(names map[string]string, authorID *string) string {
	if authorID == nil || normalize(*authorID) == "" {
		return SystemAuthorName
	}
	if name, ok := names[*authorID]; ok {
		return name
	}
	return *authorID
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
