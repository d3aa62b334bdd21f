package types

import "time"

// UnixMilli is a unix timestamp at millisecond resolution.
type UnixMilli int64

func NowUnixMilli() UnixMilli {
	return UnixMilli(time.Now().UTC().UnixMilli())
}
