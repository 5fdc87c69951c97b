package gps

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

var dialGPSDFn = dialGPSD

// dialGPSD connects to gpsd over TCP.
func dialGPSD(addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.Dial("tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdSource struct {
	addr string
	conn net.Conn
}

// openGPSD dials gpsd and enables watch mode. A daemon that is not running is
// reported as an unavailable sensor; there is no reconnect.
func openGPSD(addr string) (Source, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	conn, err := dialGPSDFn(addr)
	if err != nil {
		return nil, fmt.Errorf("gpsd dial failed addr=%s: %v", addr, err)
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch failed: %v", err)
	}
	return &gpsdSource{addr: addr, conn: conn}, nil
}

func (g *gpsdSource) Run(ctx context.Context, out chan<- Event) error {
	return runGPSD(ctx, g.conn, out)
}

func (g *gpsdSource) Close() error {
	return g.conn.Close()
}

func runGPSD(ctx context.Context, r io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, ok, err := parseGPSDLine(line)
		if err != nil || !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gpsd read stopped: %v", err)
	}
	return fmt.Errorf("gpsd read stopped: %v", io.EOF)
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`
}

type gpsdSat struct {
	PRN  int      `json:"PRN"`
	El   *float64 `json:"el"`
	Az   *float64 `json:"az"`
	SS   *float64 `json:"ss"`
	Used bool     `json:"used"`
}

type gpsdSKY struct {
	Class      string    `json:"class"`
	Satellites []gpsdSat `json:"satellites"`
}

// parseGPSDLine maps one gpsd report to an event. ok is false for reports
// that carry nothing to forward (VERSION/DEVICES/WATCH, TPV without a fix,
// SKY without a satellite list).
func parseGPSDLine(line string) (ev Event, ok bool, err error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return Event{}, false, fmt.Errorf("gpsd json parse failed: %v", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return Event{}, false, fmt.Errorf("gpsd tpv parse failed: %v", err)
		}
		f, ok := tpvFix(tpv)
		if !ok {
			return Event{}, false, nil
		}
		return FixEvent(f), true, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return Event{}, false, fmt.Errorf("gpsd sky parse failed: %v", err)
		}
		// Some gpsd versions emit SKY with only DOPs between full reports.
		if sky.Satellites == nil {
			return Event{}, false, nil
		}
		return SatellitesEvent(skySatellites(sky)), true, nil
	default:
		return Event{}, false, nil
	}
}

func tpvFix(tpv gpsdTPV) (Fix, bool) {
	// A fix needs mode 2D/3D and a position.
	if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return Fix{}, false
	}
	f := Fix{
		Time:   time.Now().UTC(),
		LatDeg: *tpv.Lat,
		LonDeg: *tpv.Lon,
	}
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			f.Time = t.UTC()
		}
	}
	altM := tpv.AltMSL
	if altM == nil {
		altM = tpv.Alt
	}
	if altM != nil {
		f.AltM = *altM
	}
	if tpv.SpeedMS != nil {
		f.SpeedMS = *tpv.SpeedMS
	}
	if tpv.Track != nil {
		f.BearingDeg = *tpv.Track
	}
	return f, true
}

func skySatellites(sky gpsdSKY) []Satellite {
	out := make([]Satellite, 0, len(sky.Satellites))
	for _, s := range sky.Satellites {
		sat := Satellite{PRN: s.PRN, Used: s.Used}
		if s.El != nil {
			sat.ElevationDeg = *s.El
		}
		if s.Az != nil {
			sat.AzimuthDeg = *s.Az
		}
		if s.SS != nil {
			sat.SNR = *s.SS
		}
		out = append(out, sat)
	}
	return out
}
