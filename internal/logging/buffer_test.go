package logging

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestBuffer_SplitsLinesAndHoldsPartial(t *testing.T) {
	b := NewBuffer(10)
	_, _ = b.Write([]byte("one\ntwo\nthr"))
	lines, _ := b.Tail(0)
	if strings.Join(lines, "|") != "one|two" {
		t.Fatalf("lines=%q", lines)
	}
	_, _ = b.Write([]byte("ee\r\n\n"))
	lines, _ = b.Tail(0)
	if strings.Join(lines, "|") != "one|two|three" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		_, _ = b.Write([]byte(s + "\n"))
	}
	lines, dropped := b.Tail(10)
	if strings.Join(lines, "") != "cde" || dropped != 2 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
	lines, _ = b.Tail(1)
	if len(lines) != 1 || lines[0] != "e" {
		t.Fatalf("tail(1)=%q", lines)
	}
}

func TestSetup_WritesToTail(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	b := NewBuffer(10)
	Setup("warn", b)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("level=%s want warn", zerolog.GlobalLevel())
	}
	log.Info().Msg("hidden")
	log.Warn().Str("module", "test").Msg("visible")

	lines, _ := b.Tail(0)
	if len(lines) != 1 || !strings.Contains(lines[0], "visible") || !strings.Contains(lines[0], "module=test") {
		t.Fatalf("lines=%q", lines)
	}

	Setup("bogus", nil)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("level=%s want info fallback", zerolog.GlobalLevel())
	}
}
