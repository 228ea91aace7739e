package relations

import (
	"context"
	"errors"
	"slices"

	"github.com/sirupsen/logrus"

	"chatsync/internal/apperrors"
	"chatsync/internal/docstore"
	"chatsync/internal/jobs"
	"chatsync/internal/ledger"
)

// PurgeUser removes a deleted account from the arrays of every user it
// references and of every user referencing it, one pair transaction per peer.
// It is safe to run again after a partial failure.
func (s *Service) PurgeUser(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.ErrMissingID
	}
	ctx, span := tracer.Start(ctx, "relations."+OpPurge)
	defer span.End()

	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.FromStore(err)
	}

	// a one-sided block leaves the blocker listing a user who lists nothing back
	referencing, err := s.store.ReferencingUsers(ctx, userID)
	if err != nil {
		return apperrors.FromStore(err)
	}
	peers := ledger.Referenced(u)
	for _, id := range referencing {
		if !slices.Contains(peers, id) {
			peers = append(peers, id)
		}
	}

	log := s.log.WithFields(logrus.Fields{"op": OpPurge, "user_id": userID})
	var errs []error
	for _, peerID := range peers {
		err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
			me, err := tx.GetUser(userID)
			if err != nil {
				return err
			}
			peer, err := tx.GetUser(peerID)
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
			peerExists := err == nil

			now := s.now().UTC()
			ledger.Strip(&me, peerID)
			me.UpdatedAt = now
			tx.PutUser(me)
			if peerExists {
				ledger.Strip(&peer, userID)
				peer.UpdatedAt = now
				tx.PutUser(peer)
			}
			return nil
		})
		if err != nil {
			log.WithError(err).WithField("peer_id", peerID).Warn("purge peer failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.FromStore(errors.Join(errs...))
	}
	log.Info("account references purged")
	return nil
}

// HandlePurgeTask is the job handler for jobs.TaskPurgeUser.
func (s *Service) HandlePurgeTask(ctx context.Context, payload []byte) error {
	p, err := jobs.DecodePurgeUser(payload)
	if err != nil {
		return err
	}
	return s.PurgeUser(ctx, p.UserID)
}
