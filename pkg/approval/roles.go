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

package approval

import (
	"context"
	"fmt"

	"github.com/dancan-sandys/isomanagement-sub001/pkg/models"
)

// StaticRoles resolves approver roles from a fixed user-to-role map, for
// deployments without an identity service.
type StaticRoles map[string]string

var _ RoleResolver = (StaticRoles)(nil)

func (r StaticRoles) RoleOf(_ context.Context, user string) (string, error) {
	role, ok := r[user]
	if !ok {
		return "", fmt.Errorf("%w: unknown user %q", models.ErrValidation, user)
	}

	return role, nil
}
