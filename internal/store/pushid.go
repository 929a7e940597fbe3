package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// pushAlphabet is ordered by ASCII value so push ids sort lexicographically
// in generation order.
const pushAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var (
	pushMu       sync.Mutex
	lastPushTime int64
	lastPushRand [12]byte
)

// NewPushID returns a 20-character key: 8 characters of millisecond
// timestamp followed by 12 random characters. Ids generated within the same
// millisecond increment the random tail so ordering still holds.
func NewPushID() string {
	pushMu.Lock()
	defer pushMu.Unlock()

	now := time.Now().UnixMilli()
	if now == lastPushTime {
		// Same millisecond: bump the tail instead of rolling new
		// randomness so the key stays greater than the previous one.
		for i := len(lastPushRand) - 1; i >= 0; i-- {
			if lastPushRand[i] < 63 {
				lastPushRand[i]++
				break
			}
			lastPushRand[i] = 0
		}
	} else {
		lastPushTime = now
		u := uuid.New()
		for i := range lastPushRand {
			lastPushRand[i] = u[i] & 63
		}
	}

	var id [20]byte
	ts := now
	for i := 7; i >= 0; i-- {
		id[i] = pushAlphabet[ts&63]
		ts >>= 6
	}
	for i, b := range lastPushRand {
		id[8+i] = pushAlphabet[b]
	}
	return string(id[:])
}
