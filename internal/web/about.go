package web

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"gpsblue-ng/internal/bluetooth"
)

// AboutResponse describes the build and what the feed carries.
type AboutResponse struct {
	Service   string   `json:"service"`
	NowUTC    string   `json:"now_utc"`
	GoVersion string   `json:"go_version"`
	Transport string   `json:"transport"`
	DefaultID string   `json:"default_service_uuid"`
	Sentences []string `json:"sentences"`

	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

func buildAbout(defaultID uuid.UUID) AboutResponse {
	if defaultID == uuid.Nil {
		defaultID = bluetooth.SerialPortProfile
	}
	resp := AboutResponse{
		Service:   "gpsblue-ng",
		NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
		GoVersion: runtime.Version(),
		Transport: "rfcomm",
		DefaultID: defaultID.String(),
		Sentences: []string{"GPGGA", "GPRMC", "GPGSV", "GPGSA"},
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return resp
	}
	resp.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			resp.Commit = s.Value
		case "vcs.modified":
			resp.Dirty = s.Value == "true"
		case "vcs.time":
			resp.BuildTime = s.Value
		}
	}
	return resp
}

func aboutHandler(defaultID uuid.UUID) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, buildAbout(defaultID))
	})
}
