package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

const knotsPerMS = 1.94384

var openSerialFn = openSerial

// readPoll bounds how long a read on the port blocks, and so how long Stop
// waits on a silent receiver.
const readPoll = 200 * time.Millisecond

func openSerial(device string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:              device,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(readPoll / time.Millisecond),
		ParityMode:            serial.PARITY_NONE,
	})
}

// pollReader retries the zero-byte reads a timed-out port returns (surfaced
// by os.File as io.EOF) until ctx ends, then reports io.EOF.
type pollReader struct {
	ctx context.Context
	r   io.Reader
}

func (p pollReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || !errors.Is(err, io.EOF) {
			return n, err
		}
		if p.ctx.Err() != nil {
			return 0, io.EOF
		}
	}
}

// nmeaSource reads a serial GNSS receiver. The GPYes 2.0 (u-blox8) typically
// appears as /dev/ttyACM* and outputs NMEA (often GNxxx talker IDs) at 9600
// baud by default.
type nmeaSource struct {
	device string
	baud   int
	port   io.ReadWriteCloser
}

func openNMEA(device string, baud int) (Source, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return nil, fmt.Errorf("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
		}
	}
	if baud == 0 {
		baud = 9600
	}
	port, err := openSerialFn(device, baud)
	if err != nil {
		return nil, fmt.Errorf("gps open failed device=%s baud=%d: %v", device, baud, err)
	}
	return &nmeaSource{device: device, baud: baud, port: port}, nil
}

func (n *nmeaSource) Run(ctx context.Context, out chan<- Event) error {
	return runNMEA(ctx, pollReader{ctx: ctx, r: n.port}, out)
}

func (n *nmeaSource) Close() error {
	return n.port.Close()
}

func runNMEA(ctx context.Context, r io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars, but allow some headroom.
	scanner.Buffer(make([]byte, 0, 256), 4096)

	var st nmeaState
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		// Some receivers include non-NMEA chatter; filter quickly.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := gonmea.Parse(line)
		if err != nil {
			// Line noise is expected on serial links.
			continue
		}
		for _, ev := range st.apply(sent) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gps read stopped: %v", err)
	}
	return fmt.Errorf("gps read stopped: %v", io.EOF)
}

// nmeaState assembles fixes from RMC+GGA and satellite sets from GSV+GSA.
type nmeaState struct {
	altM  float64
	altOK bool

	// used is the PRN set of the current epoch's GSA sentences. It is reset by
	// the first GSA after a position sentence.
	used       map[int]bool
	usedClosed bool

	// pending accumulates GSV pages per talker; views holds the last complete
	// view per talker.
	pending map[string][]Satellite
	views   map[string][]Satellite
}

func (s *nmeaState) apply(sent gonmea.Sentence) []Event {
	switch m := sent.(type) {
	case gonmea.RMC:
		s.usedClosed = true
		if f, ok := s.applyRMC(m); ok {
			return []Event{FixEvent(f)}
		}
	case gonmea.GGA:
		s.usedClosed = true
		s.applyGGA(m)
	case gonmea.GSA:
		s.applyGSA(m)
	case gonmea.GSV:
		if sats, ok := s.applyGSV(sent.TalkerID(), m); ok {
			return []Event{SatellitesEvent(sats)}
		}
	}
	return nil
}

func (s *nmeaState) applyRMC(m gonmea.RMC) (Fix, bool) {
	if m.Validity != gonmea.ValidRMC {
		// Void fixes are not forwarded.
		return Fix{}, false
	}
	f := Fix{
		Time:       nmeaTime(m.Date, m.Time),
		LatDeg:     m.Latitude,
		LonDeg:     m.Longitude,
		SpeedMS:    m.Speed / knotsPerMS,
		BearingDeg: m.Course,
	}
	if s.altOK {
		f.AltM = s.altM
	}
	return f, true
}

func (s *nmeaState) applyGGA(m gonmea.GGA) {
	if m.FixQuality == "" || m.FixQuality == gonmea.Invalid {
		return
	}
	s.altM = m.Altitude
	s.altOK = true
}

func (s *nmeaState) applyGSA(m gonmea.GSA) {
	if s.used == nil || s.usedClosed {
		s.used = make(map[int]bool)
		s.usedClosed = false
	}
	for _, sv := range m.SV {
		prn, err := strconv.Atoi(strings.TrimSpace(sv))
		if err != nil {
			continue
		}
		s.used[prn] = true
	}
}

func (s *nmeaState) applyGSV(talker string, m gonmea.GSV) ([]Satellite, bool) {
	if s.pending == nil {
		s.pending = make(map[string][]Satellite)
		s.views = make(map[string][]Satellite)
	}
	if m.MessageNumber == 1 {
		s.pending[talker] = nil
	}
	for _, info := range m.Info {
		s.pending[talker] = append(s.pending[talker], Satellite{
			PRN:          int(info.SVPRNNumber),
			ElevationDeg: float64(info.Elevation),
			AzimuthDeg:   float64(info.Azimuth),
			SNR:          float64(info.SNR),
		})
	}
	if m.MessageNumber < m.TotalMessages {
		return nil, false
	}
	s.views[talker] = s.pending[talker]
	delete(s.pending, talker)

	talkers := make([]string, 0, len(s.views))
	for t := range s.views {
		talkers = append(talkers, t)
	}
	sort.Strings(talkers)

	out := []Satellite{}
	for _, t := range talkers {
		for _, sat := range s.views[t] {
			sat.Used = s.used[sat.PRN]
			out = append(out, sat)
		}
	}
	return out, true
}

func nmeaTime(d gonmea.Date, t gonmea.Time) time.Time {
	now := time.Now().UTC()
	year, month, day := now.Year(), now.Month(), now.Day()
	if d.Valid {
		year, month, day = 2000+d.YY, time.Month(d.MM), d.DD
	}
	if !t.Valid {
		return now
	}
	return time.Date(year, month, day, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

func autoDetectDevice() string {
	// Keep it intentionally tiny and predictable.
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
