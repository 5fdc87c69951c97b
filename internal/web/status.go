package web

import (
	"time"

	"gpsblue-ng/internal/session"
)

// StatusSource provides the live session state.
type StatusSource interface {
	Snapshot() session.Snapshot
}

type StatusResponse struct {
	Service   string  `json:"service"`
	NowUTC    string  `json:"now_utc"`
	UptimeSec float64 `json:"uptime_sec"`

	session.Snapshot
}

func newStatusResponse(started time.Time, src StatusSource) StatusResponse {
	now := time.Now().UTC()
	resp := StatusResponse{
		Service:   "gpsblue-ng",
		NowUTC:    now.Format(time.RFC3339Nano),
		UptimeSec: now.Sub(started).Seconds(),
	}
	if src != nil {
		resp.Snapshot = src.Snapshot()
	}
	return resp
}
