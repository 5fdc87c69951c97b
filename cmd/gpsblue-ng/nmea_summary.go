package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	gonmea "github.com/adrianmo/go-nmea"
)

type nmeaSummary struct {
	Lines      int
	Sentences  int
	Invalid    int
	Fixes      int
	VoidFixes  int
	TypeCounts map[string]int
}

// summarizeNMEA counts the sentences in a receiver capture. Lines that do not
// start with '$' are ignored.
func summarizeNMEA(r io.Reader) (nmeaSummary, error) {
	s := nmeaSummary{TypeCounts: map[string]int{}}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.Lines++
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := gonmea.Parse(line)
		if err != nil {
			s.Invalid++
			continue
		}
		s.Sentences++
		s.TypeCounts[sent.DataType()]++
		if rmc, ok := sent.(gonmea.RMC); ok {
			if rmc.Validity == gonmea.ValidRMC {
				s.Fixes++
			} else {
				s.VoidFixes++
			}
		}
	}
	return s, sc.Err()
}

func printNMEASummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s, err := summarizeNMEA(f)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "lines: %d\n", s.Lines)
	fmt.Fprintf(w, "sentences: %d\n", s.Sentences)
	fmt.Fprintf(w, "invalid_sentences: %d\n", s.Invalid)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	fmt.Fprintf(w, "void_fixes: %d\n", s.VoidFixes)

	keys := make([]string, 0, len(s.TypeCounts))
	for k := range s.TypeCounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "type_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.TypeCounts[k])
	}
	return nil
}
