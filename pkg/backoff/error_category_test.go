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

package backoff

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeError(t *testing.T) {
	assert.Nil(t, CategorizeError(nil))

	// Uncategorized errors default to transient
	plain := errors.New("disk unavailable")
	assert.True(t, IsTransientError(CategorizeError(plain)))

	// Already categorized errors keep their category
	perm := NewPermanentError(errors.New("bad input"))
	assert.True(t, IsPermanentError(CategorizeError(perm)))
	assert.False(t, IsTransientError(perm))

	ignored := NewIgnoredError(errors.New("sink down"))
	assert.True(t, IsIgnoredError(ignored))
}

func TestCategorySurvivesWrapping(t *testing.T) {
	inner := NewTransientError(errors.New("sqlite busy"))
	wrapped := fmt.Errorf("executing transition: %w", inner)

	assert.True(t, IsTransientError(wrapped))
	assert.Equal(t, "sqlite busy", ExtractOriginalError(wrapped).Error())
}
