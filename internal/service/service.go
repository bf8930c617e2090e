// Package service coordinates entity lifecycles across storage, locking,
// audit logging, and event publication. Each service owns one aggregate;
// cross-process safety for mutations comes from the lock manager.
package service

import "time"

// lockTTL bounds how long a single mutation may hold an entity lock before
// the lock manager reclaims it from a crashed holder.
const lockTTL = 10 * time.Second
