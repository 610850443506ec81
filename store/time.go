// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package store

import "time"

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
