// Package relations implements the friend-request, friendship and block state
// machine over the relationship arrays of user records. Every mutation reads
// both records and writes both sides in one store transaction.
package relations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/ledger"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/telemetry"
)

var tracer = otel.Tracer("chatsync/relations")

// Operation names used in logs, metrics and events.
const (
	OpSendRequest   = "send_request"
	OpAcceptRequest = "accept_request"
	OpRejectRequest = "reject_request"
	OpCancelRequest = "cancel_request"
	OpRemoveFriend  = "remove_friend"
	OpBlock         = "block"
	OpUnblock       = "unblock"
	OpPurge         = "purge"
)

// Service runs relationship operations against a document store.
type Service struct {
	store  docstore.Store
	audit  *telemetry.AuditEmitter
	events *telemetry.EventEmitter
	log    *logrus.Entry
	now    func() time.Time
}

type Option func(*Service)

func WithAudit(a *telemetry.AuditEmitter) Option {
	return func(s *Service) { s.audit = a }
}

func WithEvents(e *telemetry.EventEmitter) Option {
	return func(s *Service) { s.events = e }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Service) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   logrus.NewEntry(logrus.StandardLogger()),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "relations")
	return s
}

// pairFunc mutates both records in place. me is the acting user.
type pairFunc func(me, other *models.User) error

func (s *Service) mutatePair(ctx context.Context, op, userID, otherID string, fn pairFunc) error {
	if userID == "" || otherID == "" {
		return s.finish(ctx, op, userID, otherID, apperrors.ErrMissingID)
	}
	if userID == otherID {
		return s.finish(ctx, op, userID, otherID, apperrors.ErrSelfReference)
	}

	ctx, span := tracer.Start(ctx, "relations."+op)
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("other_id", otherID))

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		me, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		other, err := loadUser(tx, otherID)
		if err != nil {
			return err
		}
		if err := fn(&me, &other); err != nil {
			return err
		}
		if err := checkBoth(me, other); err != nil {
			return fmt.Errorf("relations %s: %w", op, err)
		}
		now := s.now().UTC()
		me.UpdatedAt = now
		other.UpdatedAt = now
		tx.PutUser(me)
		tx.PutUser(other)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return s.finish(ctx, op, userID, otherID, err)
}

// finish classifies err, records the outcome and announces successful changes.
func (s *Service) finish(ctx context.Context, op, userID, otherID string, err error) error {
	err = apperrors.FromStore(err)
	entry := s.log.WithFields(logrus.Fields{"op": op, "user_id": userID, "other_id": otherID})
	if err != nil {
		outcome := string(apperrors.CodeOf(err))
		observability.IncRelationshipOp(op, outcome)
		if apperrors.KindOf(err) == apperrors.KindInternal {
			entry.WithError(err).Error("relationship operation failed")
		} else {
			entry.WithField("code", outcome).Debug("relationship operation rejected")
		}
		return err
	}

	observability.IncRelationshipOp(op, "ok")
	entry.Info("relationship changed")
	s.audit.Record(ctx, telemetry.AuditRecord{Action: op, ActorID: userID, Subject: otherID})
	s.events.Emit(ctx, telemetry.EventRelationshipChanged, userID, otherID, map[string]string{"op": op})
	return nil
}

func loadUser(tx docstore.Tx, id string) (models.User, error) {
	u, err := tx.GetUser(id)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.User{}, apperrors.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if u.Deleted {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}

func checkBoth(a, b models.User) error {
	if err := ledger.CheckExclusive(a); err != nil {
		return err
	}
	return ledger.CheckExclusive(b)
}

func blockedEither(a, b models.User) bool {
	return ledger.Contains(a, models.FieldBlocked, b.ID) || ledger.Contains(b, models.FieldBlocked, a.ID)
}

func friendsEither(a, b models.User) bool {
	return ledger.Contains(a, models.FieldFriends, b.ID) || ledger.Contains(b, models.FieldFriends, a.ID)
}

// SendRequest records a pending friend request from one user to another.
func (s *Service) SendRequest(ctx context.Context, from, to string) error {
	return s.mutatePair(ctx, OpSendRequest, from, to, func(me, other *models.User) error {
		switch {
		case blockedEither(*me, *other):
			return apperrors.ErrBlocked
		case friendsEither(*me, *other):
			return apperrors.ErrAlreadyFriends
		case ledger.Contains(*me, models.FieldSentRequests, to):
			return apperrors.ErrDuplicateRequest
		case ledger.Contains(*me, models.FieldReceivedRequests, to):
			return apperrors.ErrReciprocalRequestExists
		}
		ledger.Add(me, models.FieldSentRequests, to)
		ledger.Add(other, models.FieldReceivedRequests, from)
		return nil
	})
}

// AcceptRequest turns the pending request from requester into a friendship.
func (s *Service) AcceptRequest(ctx context.Context, userID, requester string) error {
	return s.mutatePair(ctx, OpAcceptRequest, userID, requester, func(me, other *models.User) error {
		switch {
		case !ledger.Contains(*me, models.FieldReceivedRequests, requester):
			return apperrors.ErrNoPendingRequest
		case friendsEither(*me, *other):
			return apperrors.ErrAlreadyFriends
		case blockedEither(*me, *other):
			return apperrors.ErrBlocked
		}
		clearPending(me, other)
		ledger.Add(me, models.FieldFriends, requester)
		ledger.Add(other, models.FieldFriends, userID)
		return nil
	})
}

// RejectRequest drops the pending request received from requester.
func (s *Service) RejectRequest(ctx context.Context, userID, requester string) error {
	return s.mutatePair(ctx, OpRejectRequest, userID, requester, func(me, other *models.User) error {
		if !ledger.Contains(*me, models.FieldReceivedRequests, requester) {
			return apperrors.ErrNoPendingRequest
		}
		ledger.Remove(me, models.FieldReceivedRequests, requester)
		ledger.Remove(other, models.FieldSentRequests, userID)
		return nil
	})
}

// CancelRequest withdraws the pending request sent to recipient.
func (s *Service) CancelRequest(ctx context.Context, userID, recipient string) error {
	return s.mutatePair(ctx, OpCancelRequest, userID, recipient, func(me, other *models.User) error {
		if !ledger.Contains(*me, models.FieldSentRequests, recipient) {
			return apperrors.ErrNoPendingRequest
		}
		ledger.Remove(me, models.FieldSentRequests, recipient)
		ledger.Remove(other, models.FieldReceivedRequests, userID)
		return nil
	})
}

// RemoveFriend ends a friendship listed on both sides.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) error {
	return s.mutatePair(ctx, OpRemoveFriend, userID, friendID, func(me, other *models.User) error {
		if !ledger.Contains(*me, models.FieldFriends, friendID) || !ledger.Contains(*other, models.FieldFriends, userID) {
			return apperrors.ErrNotFriends
		}
		ledger.Remove(me, models.FieldFriends, friendID)
		ledger.Remove(other, models.FieldFriends, userID)
		return nil
	})
}

// Block adds target to the user's blocked list. Pending requests in both
// directions are dropped and the target leaves the user's friends; the
// target's own friends entry is left alone.
func (s *Service) Block(ctx context.Context, userID, target string) error {
	return s.mutatePair(ctx, OpBlock, userID, target, func(me, other *models.User) error {
		if ledger.Contains(*me, models.FieldBlocked, target) {
			return apperrors.ErrAlreadyBlocked
		}
		clearPending(me, other)
		ledger.Remove(me, models.FieldFriends, target)
		ledger.Add(me, models.FieldBlocked, target)
		return nil
	})
}

// Unblock removes target from the user's blocked list. It succeeds when the
// target was not blocked. A friends entry the target kept from before the
// block no longer has a counterpart and is dropped.
func (s *Service) Unblock(ctx context.Context, userID, target string) error {
	const op = OpUnblock
	if userID == "" || target == "" {
		return s.finish(ctx, op, userID, target, apperrors.ErrMissingID)
	}
	if userID == target {
		return s.finish(ctx, op, userID, target, apperrors.ErrSelfReference)
	}

	ctx, span := tracer.Start(ctx, "relations."+op)
	defer span.End()

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		me, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		other, err := tx.GetUser(target)
		hasOther := err == nil
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		if ledger.Remove(&me, models.FieldBlocked, target) {
			me.UpdatedAt = now
			tx.PutUser(me)
		}
		if hasOther && !ledger.Contains(me, models.FieldFriends, target) &&
			ledger.Remove(&other, models.FieldFriends, userID) {
			other.UpdatedAt = now
			tx.PutUser(other)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return s.finish(ctx, op, userID, target, err)
}

// clearPending drops request markers in both directions.
func clearPending(a, b *models.User) {
	ledger.Remove(a, models.FieldSentRequests, b.ID)
	ledger.Remove(a, models.FieldReceivedRequests, b.ID)
	ledger.Remove(b, models.FieldSentRequests, a.ID)
	ledger.Remove(b, models.FieldReceivedRequests, a.ID)
}

// CheckStatus derives the relationship between userID and otherID as seen by
// userID. Both records are consulted; a block by either side hides friendship
// and pending requests, but only the caller's own block is reported.
func (s *Service) CheckStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error) {
	if userID == "" || otherID == "" {
		return models.FriendshipStatus{}, apperrors.ErrMissingID
	}
	if userID == otherID {
		return models.FriendshipStatus{}, apperrors.ErrSelfReference
	}
	users, err := s.store.GetUsers(ctx, []string{userID, otherID})
	if err != nil {
		return models.FriendshipStatus{}, apperrors.FromStore(err)
	}
	if len(users) != 2 || users[0].Deleted || users[1].Deleted {
		return models.FriendshipStatus{}, apperrors.ErrUserNotFound
	}
	return Derive(users[0], users[1]), nil
}

// Derive computes the status of other as seen by me.
func Derive(me, other models.User) models.FriendshipStatus {
	blocked := blockedEither(me, other)
	return models.FriendshipStatus{
		IsFriend: !blocked &&
			ledger.Contains(me, models.FieldFriends, other.ID) &&
			ledger.Contains(other, models.FieldFriends, me.ID),
		RequestSent: !blocked &&
			ledger.Contains(me, models.FieldSentRequests, other.ID) &&
			ledger.Contains(other, models.FieldReceivedRequests, me.ID),
		RequestReceived: !blocked &&
			ledger.Contains(me, models.FieldReceivedRequests, other.ID) &&
			ledger.Contains(other, models.FieldSentRequests, me.ID),
		IsBlocked: ledger.Contains(me, models.FieldBlocked, other.ID),
	}
}
