package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dm-service/internal/metrics"
	"dm-service/internal/model"
	"dm-service/internal/presence"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultStoreTimeout = 10 * time.Second

type PresenceService struct {
	registry  *presence.Registry
	debouncer *presence.Debouncer
	store     Store
	notifier  Notifier
	mirror    PresenceMirror
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// status writes for one user are serialized and always persist the
	// registry's current state, so the last writer is never stale
	statusLocks  *keyedMutex
	storeTimeout time.Duration
}

func NewPresenceService(
	registry *presence.Registry,
	debouncer *presence.Debouncer,
	store Store,
	notifier Notifier,
	mirror PresenceMirror,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PresenceService {
	return &PresenceService{
		registry:     registry,
		debouncer:    debouncer,
		store:        store,
		notifier:     notifier,
		mirror:       mirror,
		metrics:      m,
		logger:       logger,
		statusLocks:  newKeyedMutex(),
		storeTimeout: defaultStoreTimeout,
	}
}

// SetStoreTimeout bounds persistence calls made outside a connection's
// event context, such as the offline transition.
func (s *PresenceService) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

// Announce makes conn the live connection of userID and cancels a pending
// offline transition. A persistence failure is returned but the registry
// keeps the user online. The caller broadcasts the online set once the
// connection has its history.
//
// A connection that re-announces as another user gives up its previous
// identity, which is persisted offline right away.
func (s *PresenceService) Announce(ctx context.Context, userID uuid.UUID, conn presence.ConnID) error {
	previous, hadPrevious := s.registry.OwnerOf(conn)
	if displaced, ok := s.registry.Announce(userID, conn); ok {
		s.logger.Info("Connection displaced by a newer one",
			zap.String("userId", userID.String()),
			zap.String("displacedConn", string(displaced)),
			zap.String("conn", string(conn)))
	}
	if s.debouncer.Cancel(userID) {
		s.metrics.RecordOfflineCancelled()
		s.logger.Debug("Reconnected within debounce window",
			zap.String("userId", userID.String()))
	}
	s.metrics.SetOnlineUsers(s.registry.Len())

	if hadPrevious && previous != userID {
		s.logger.Info("Connection switched identity",
			zap.String("conn", string(conn)),
			zap.String("previousUserId", previous.String()),
			zap.String("userId", userID.String()))
		if err := s.syncStatus(ctx, previous); err != nil {
			s.logger.Error("Failed to persist previous identity offline",
				zap.String("userId", previous.String()),
				zap.Error(err))
		}
	}

	return s.syncStatus(ctx, userID)
}

// Disconnect handles a closed connection. Only the connection that owns
// its user's entry starts the offline countdown.
func (s *PresenceService) Disconnect(conn presence.ConnID) {
	userID, ok := s.registry.Release(conn)
	if !ok {
		return
	}

	s.metrics.RecordOfflineScheduled()
	s.logger.Debug("Scheduling offline transition",
		zap.String("userId", userID.String()),
		zap.Duration("delay", s.debouncer.Delay()))

	s.debouncer.Schedule(userID, func() {
		s.expire(userID, conn)
	})
}

func (s *PresenceService) expire(userID uuid.UUID, conn presence.ConnID) {
	if !s.registry.Expire(userID, conn) {
		return
	}
	s.metrics.RecordOfflineTransition()
	s.metrics.SetOnlineUsers(s.registry.Len())
	s.logger.Info("User went offline", zap.String("userId", userID.String()))

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	if err := s.syncStatus(ctx, userID); err != nil {
		s.logger.Error("Failed to persist offline status",
			zap.String("userId", userID.String()),
			zap.Error(err))
	}
	s.BroadcastOnlineUsers()
}

func (s *PresenceService) syncStatus(ctx context.Context, userID uuid.UUID) error {
	unlock := s.statusLocks.Lock(userID)
	defer unlock()

	online := s.registry.IsOnline(userID)

	if s.mirror != nil {
		var err error
		if online {
			err = s.mirror.MarkOnline(ctx, userID)
		} else {
			err = s.mirror.MarkOffline(ctx, userID)
		}
		if err != nil {
			s.logger.Warn("Failed to mirror presence",
				zap.String("userId", userID.String()),
				zap.Error(err))
		}
	}

	if err := s.store.SetOnlineStatus(ctx, userID, online); err != nil {
		s.metrics.RecordStoreError("set_online_status")
		return fmt.Errorf("failed to persist presence: %w", err)
	}
	return nil
}

// OnlineUsers returns the current online set.
func (s *PresenceService) OnlineUsers() []uuid.UUID {
	return s.registry.Snapshot()
}

// IsOnline reports whether userID is shown online.
func (s *PresenceService) IsOnline(userID uuid.UUID) bool {
	return s.registry.IsOnline(userID)
}

func (s *PresenceService) BroadcastOnlineUsers() {
	s.notifier.Broadcast(model.Event{
		Type:    model.EventOnlineUsers,
		Payload: s.registry.Snapshot(),
	})
}

// Reconcile brings storage and the mirror back in line with the registry:
// users stored or mirrored as online but absent from the registry are
// persisted offline, and registry users missing from either are persisted
// online. It returns how many users were corrected.
func (s *PresenceService) Reconcile(ctx context.Context) (int, error) {
	stored, err := s.store.ListOnlineUserIDs(ctx)
	if err != nil {
		s.metrics.RecordStoreError("list_online_users")
		return 0, fmt.Errorf("failed to list online users: %w", err)
	}
	storedOnline := toSet(stored)
	mirrored := s.mirroredOnline(ctx)

	stale := make(map[uuid.UUID]struct{})
	for userID := range storedOnline {
		if !s.registry.IsOnline(userID) {
			stale[userID] = struct{}{}
		}
	}
	for userID := range mirrored {
		if !s.registry.IsOnline(userID) {
			stale[userID] = struct{}{}
		}
	}
	for _, userID := range s.registry.Snapshot() {
		_, inStore := storedOnline[userID]
		_, inMirror := mirrored[userID]
		if !inStore || (mirrored != nil && !inMirror) {
			stale[userID] = struct{}{}
		}
	}

	fixed := 0
	for userID := range stale {
		if err := s.syncStatus(ctx, userID); err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}

// mirroredOnline returns the mirror's online set, or nil when there is no
// mirror or it cannot be read.
func (s *PresenceService) mirroredOnline(ctx context.Context) map[uuid.UUID]struct{} {
	if s.mirror == nil {
		return nil
	}
	ids, err := s.mirror.OnlineUsers(ctx)
	if err != nil {
		s.logger.Warn("Failed to read mirrored presence", zap.Error(err))
		return nil
	}
	return toSet(ids)
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Stop cancels pending offline transitions.
func (s *PresenceService) Stop() {
	s.debouncer.Stop()
}

// keyedMutex hands out one mutex per user, dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*refMutex)}
}

func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refMutex{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
