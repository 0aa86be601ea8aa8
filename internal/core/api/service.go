// Package api implements the RewardService gRPC API.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/solatis/rewardkeeper/internal/core/auth"
	"github.com/solatis/rewardkeeper/internal/core/db"
	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/solatis/rewardkeeper/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RewardService implements RewardServiceServer.
// Thin orchestration layer delegating to auth, rules, and the store.
type RewardService struct {
	store  *db.Store
	engine *rules.Engine
	log    *zap.Logger
	locks  *keyedMutex
}

var _ RewardServiceServer = (*RewardService)(nil)

// NewRewardService creates service instance with dependencies.
func NewRewardService(store *db.Store, engine *rules.Engine, log *zap.Logger) (*RewardService, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &RewardService{
		store:  store,
		engine: engine,
		log:    log.Named("api"),
		locks:  newKeyedMutex(),
	}, nil
}

// projectID returns the authenticated project of the request.
func projectID(ctx context.Context) (types.ProjectID, error) {
	id := auth.ProjectIDFromContext(ctx)
	if id == "" {
		return "", status.Error(codes.Internal, "missing project_id in context")
	}
	return id, nil
}

// keyedMutex serializes work per key. Entries are dropped once unused so the
// map stays bounded by the number of in-flight keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size reports tracked keys.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
