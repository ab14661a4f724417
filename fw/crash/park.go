//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//
package crash

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/mongoose-os/fastload/fw/hal"
)

// DefaultParkPeriod is the length of one step of the park pattern.
const DefaultParkPeriod = 150 * time.Millisecond

// ParkPattern is three short flashes and a pause, one entry per period.
var ParkPattern = []bool{true, false, true, false, true, false, false, false, false, false}

// Park drives ind with ParkPattern forever. Nothing else runs; only an
// external reset, here the cancellation of ctx, ends it.
func Park(ctx context.Context, ind hal.Indicator, period time.Duration) error {
	if period <= 0 {
		period = DefaultParkPeriod
	}
	glog.Errorf("halted, reset required")
	t := time.NewTicker(period)
	defer t.Stop()
	for i := 0; ; i = (i + 1) % len(ParkPattern) {
		ind.Set(ParkPattern[i])
		select {
		case <-ctx.Done():
			ind.Set(false)
			return ctx.Err()
		case <-t.C:
		}
	}
}
