// Copyright 2026 Dancan Sandys
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package locks

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedMutex serializes work per key. The engine uses one instance keyed by
// process id to keep the "at most one in-progress stage" invariant under
// concurrent transition requests.
//
// Each key's mutex is a weight-1 semaphore so acquisition is context aware:
// a caller waiting on a busy process gives up when its context is cancelled.
type KeyedMutex struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		sems: make(map[string]*semaphore.Weighted),
	}
}

func (k *KeyedMutex) sem(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()

	s, ok := k.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		k.sems[key] = s
	}

	return s
}

// Lock acquires the mutex for key, blocking until it is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) error {
	return k.sem(key).Acquire(ctx, 1)
}

// Unlock releases the mutex for key. Must follow a successful Lock.
func (k *KeyedMutex) Unlock(key string) {
	k.sem(key).Release(1)
}
