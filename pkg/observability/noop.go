// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"time"
)

// NoopMetrics discards all measurements. Use when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordWorkflow(ctx context.Context, duration time.Duration, iterations int, err error) {
}

func (NoopMetrics) RecordDelegation(ctx context.Context, target string, duration time.Duration, err error) {
}

func (NoopMetrics) RecordOracleCall(ctx context.Context, duration time.Duration, corrective bool, err error) {
}

func (NoopMetrics) RecordValidationFailure(ctx context.Context, rule string) {}

func (NoopMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
}

func (NoopMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
}
