// Package nmea renders fixes and satellite sets as NMEA 0183 sentences for
// the wireless serial feed.
//
// Every sentence is "$" + payload + "*" + two uppercase hex checksum digits +
// CRLF. The sentence kinds produced are GGA (fix data), RMC (recommended
// minimum), GSV (satellites in view, 4 per sentence) and GSA (satellites
// used, up to 12 PRNs).
package nmea

import (
	"fmt"
	"math"
	"strings"

	"gpsblue-ng/internal/gps"
)

const (
	knotsPerMS = 1.94384

	// MaxUsed is the number of PRN slots in a GSA sentence.
	MaxUsed = 12

	satsPerGSV = 4
)

// Encoder remembers how many satellites the last satellite set marked as used
// so fix sentences can report it. Not safe for concurrent use; the sensor
// loop is its only caller.
type Encoder struct {
	used int
}

func NewEncoder() *Encoder { return &Encoder{} }

// Fix renders GGA+RMC using the cached used-satellite count.
func (e *Encoder) Fix(f gps.Fix) []byte {
	return EncodeFix(f, e.used)
}

// Satellites renders GSV+GSA and refreshes the used count. A nil set clears
// the count and renders nothing.
func (e *Encoder) Satellites(recs []gps.Satellite) []byte {
	if recs == nil {
		e.used = 0
		return nil
	}
	e.used = countUsed(recs)
	return EncodeSatellites(recs)
}

// InUse returns the cached used-satellite count.
func (e *Encoder) InUse() int { return e.used }

func countUsed(recs []gps.Satellite) int {
	n := 0
	for _, r := range recs {
		if r.Used {
			n++
		}
	}
	return n
}

// EncodeFix renders a GGA sentence followed by an RMC sentence.
func EncodeFix(f gps.Fix, satCountInUse int) []byte {
	t := f.Time.UTC()
	hms := t.Format("150405.000")
	lat, ns := formatLat(f.LatDeg)
	lon, ew := formatLon(f.LonDeg)

	var b strings.Builder
	b.WriteString(Sentence(fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,%d,0.9,%.1f,M,,,,",
		hms, lat, ns, lon, ew, satCountInUse, f.AltM)))
	b.WriteString(Sentence(fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.1f,%.1f,%s,,",
		hms, lat, ns, lon, ew, f.SpeedMS*knotsPerMS, f.BearingDeg, t.Format("020106"))))
	return []byte(b.String())
}

// EncodeSatellites renders the GSV pages for every record followed by one GSA
// listing the highest-SNR used PRNs. An empty set still yields one GSV with a
// zero count and a GSA without PRNs.
func EncodeSatellites(recs []gps.Satellite) []byte {
	var b strings.Builder

	total := (len(recs) + satsPerGSV - 1) / satsPerGSV
	if total < 1 {
		total = 1
	}
	for page := 0; page < total; page++ {
		var p strings.Builder
		fmt.Fprintf(&p, "GPGSV,%d,%d,%d", total, page+1, len(recs))
		end := (page + 1) * satsPerGSV
		if end > len(recs) {
			end = len(recs)
		}
		for _, r := range recs[page*satsPerGSV : end] {
			fmt.Fprintf(&p, ",%02d,%02d,%03d,%02d",
				r.PRN, wholeDeg(r.ElevationDeg), wholeDeg(r.AzimuthDeg), wholeDeg(r.SNR))
		}
		b.WriteString(Sentence(p.String()))
	}

	var p strings.Builder
	p.WriteString("GPGSA,A,3")
	top := TopUsed(recs, MaxUsed)
	for i := 0; i < MaxUsed; i++ {
		if i < len(top) {
			fmt.Fprintf(&p, ",%02d", top[i].PRN)
		} else {
			p.WriteString(",")
		}
	}
	p.WriteString(",1.2,1.2,1.2")
	b.WriteString(Sentence(p.String()))

	return []byte(b.String())
}

// TopUsed returns up to n used records in descending SNR order. Insertion is
// bounded: a record only moves ahead of entries with strictly lower SNR, so
// among equal SNR values the first seen wins.
func TopUsed(recs []gps.Satellite, n int) []gps.Satellite {
	if n <= 0 {
		return nil
	}
	top := make([]gps.Satellite, 0, n+1)
	for _, r := range recs {
		if !r.Used {
			continue
		}
		i := 0
		for i < len(top) && top[i].SNR >= r.SNR {
			i++
		}
		if i >= n {
			continue
		}
		top = append(top, gps.Satellite{})
		copy(top[i+1:], top[i:])
		top[i] = r
		if len(top) > n {
			top = top[:n]
		}
	}
	return top
}

// Checksum is the XOR of every payload byte (the text between '$' and '*').
func Checksum(payload string) byte {
	var ck byte
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return ck
}

// Sentence frames a payload with '$', its checksum and CRLF.
func Sentence(payload string) string {
	return fmt.Sprintf("$%s*%02X\r\n", payload, Checksum(payload))
}

func formatLat(deg float64) (string, string) {
	hemi := "N"
	if deg < 0 {
		hemi = "S"
	}
	d, m, frac := degMin(deg)
	return fmt.Sprintf("%02d%02d.%03d", d, m, frac), hemi
}

func formatLon(deg float64) (string, string) {
	hemi := "E"
	if deg < 0 {
		hemi = "W"
	}
	d, m, frac := degMin(deg)
	return fmt.Sprintf("%03d%02d.%03d", d, m, frac), hemi
}

// degMin splits |deg| into whole degrees, whole minutes and thousandths of a
// minute. Thousandths are truncated; the epsilon absorbs binary
// representation error such as 42.12345*60000 landing just below an integer.
func degMin(deg float64) (d, m, frac int64) {
	t := int64(math.Floor(math.Abs(deg)*60000 + 1e-6))
	d = t / 60000
	rem := t % 60000
	return d, rem / 1000, rem % 1000
}

func wholeDeg(v float64) int {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Round(v))
}
