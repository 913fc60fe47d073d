package flist

import "time"

func unixTime(secs int32) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}
