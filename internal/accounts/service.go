// Package accounts manages the caller's own user record.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/jobs"
	"chatsync/internal/models"
	"chatsync/internal/telemetry"
)

const maxDisplayName = 64

// Service handles registration, profile edits and account deletion.
type Service struct {
	store  docstore.Store
	queue  jobs.Queue
	events *telemetry.EventEmitter
	log    *logrus.Entry
	now    func() time.Time
}

type Option func(*Service)

func WithEvents(e *telemetry.EventEmitter) Option { return func(s *Service) { s.events = e } }

func WithLogger(l *logrus.Entry) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store docstore.Store, queue jobs.Queue, opts ...Option) *Service {
	s := &Service{
		store: store,
		queue: queue,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "accounts")
	return s
}

// Registration holds the fields a user supplies when creating a record.
type Registration struct {
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar"`
	Bio         string `json:"bio"`
}

// ProfileUpdate changes the fields that are not nil.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name"`
	Avatar      *string `json:"avatar"`
	Bio         *string `json:"bio"`
}

// Register creates the record of userID.
func (s *Service) Register(ctx context.Context, userID string, in Registration) (models.User, error) {
	if userID == "" {
		return models.User{}, apperrors.ErrMissingID
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" || len([]rune(name)) > maxDisplayName {
		return models.User{}, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidPayload, "display name must be 1-64 characters")
	}
	now := s.now().UTC()
	u := models.User{
		ID:               userID,
		DisplayName:      name,
		Email:            strings.TrimSpace(in.Email),
		Avatar:           in.Avatar,
		Bio:              in.Bio,
		Status:           models.StatusOffline,
		LastSeen:         now,
		Friends:          []string{},
		SentRequests:     []string{},
		ReceivedRequests: []string{},
		Blocked:          []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.store.CreateUser(ctx, u)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return models.User{}, apperrors.ErrUserExists
	}
	if err != nil {
		return models.User{}, apperrors.FromStore(err)
	}
	s.log.WithField("user_id", userID).Info("user registered")
	return u, nil
}

// Profile returns the full record of userID.
func (s *Service) Profile(ctx context.Context, userID string) (models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.User{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, apperrors.FromStore(err)
	}
	if u.Deleted {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}

// UpdateProfile applies in to the record of userID.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (models.User, error) {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" || len([]rune(name)) > maxDisplayName {
			return models.User{}, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidPayload, "display name must be 1-64 characters")
		}
		in.DisplayName = &name
	}

	var out models.User
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		u, err := tx.GetUser(userID)
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if u.Deleted {
			return apperrors.ErrUserNotFound
		}
		if in.DisplayName != nil {
			u.DisplayName = *in.DisplayName
		}
		if in.Avatar != nil {
			u.Avatar = *in.Avatar
		}
		if in.Bio != nil {
			u.Bio = *in.Bio
		}
		u.UpdatedAt = s.now().UTC()
		tx.PutUser(u)
		out = u
		return nil
	})
	if err != nil {
		return models.User{}, apperrors.FromStore(err)
	}
	return out, nil
}

// Delete marks the record of userID deleted and queues the removal of the
// account from its peers' relationship arrays.
func (s *Service) Delete(ctx context.Context, userID string) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		u, err := tx.GetUser(userID)
		if errors.Is(err, docstore.ErrNotFound) {
			return apperrors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		if u.Deleted {
			return apperrors.ErrUserNotFound
		}
		now := s.now().UTC()
		u.Deleted = true
		u.Status = models.StatusOffline
		u.LastSeen = now
		u.UpdatedAt = now
		tx.PutUser(u)
		return nil
	})
	if err != nil {
		return apperrors.FromStore(err)
	}

	log := s.log.WithField("user_id", userID)
	task, err := jobs.NewPurgeUserTask(userID)
	if err == nil {
		_, err = s.queue.Enqueue(ctx, task, jobs.EnqueueOption{MaxRetry: 10})
	}
	if err != nil {
		// the record is already hidden; peers keep dangling ids until a retry
		log.WithError(err).Error("enqueue purge failed")
	}
	log.Info("account deleted")
	s.events.Emit(ctx, telemetry.EventAccountDeleted, userID, "", nil)
	return nil
}
