package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitParsesLevel(t *testing.T) {
	Init(Config{Level: "warn"})
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("unexpected level: %s", zerolog.GlobalLevel())
	}

	Init(Config{Level: "not-a-level"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", zerolog.GlobalLevel())
	}
}

func TestWithScenarioTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithScenario(base, "scenario-42")
	logger.Info().Msg("session connected")

	if !strings.Contains(buf.String(), `"scenarioId":"scenario-42"`) {
		t.Fatalf("expected scenario tag, got %s", buf.String())
	}
}

func TestWithScenarioEmptyIDLeavesLoggerUntagged(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := WithScenario(base, "")
	logger.Info().Msg("session connected")

	if strings.Contains(buf.String(), "scenarioId") {
		t.Fatalf("expected no scenario tag, got %s", buf.String())
	}
}
