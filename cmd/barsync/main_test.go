package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"barsync/internal/config"
	"barsync/internal/pipeline"
)

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	err := printResults(&buf, map[string]pipeline.Result{
		"MSFT": {Bars: 10},
		"AAPL": {Bars: 5, Err: errors.New("boom"), Error: "boom"},
	})
	if err == nil || !strings.Contains(err.Error(), "AAPL") {
		t.Errorf("err = %v, want failure naming AAPL", err)
	}
	out := buf.String()
	if strings.Index(out, "AAPL") > strings.Index(out, "MSFT") {
		t.Errorf("symbols not sorted:\n%s", out)
	}
	if !strings.Contains(out, "2 symbols, 15 bars, 1 failed") {
		t.Errorf("missing totals line:\n%s", out)
	}
}

func TestPrintResultsAllOK(t *testing.T) {
	var buf bytes.Buffer
	if err := printResults(&buf, map[string]pipeline.Result{"AAPL": {Bars: 1}}); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestSymbolsOrDefault(t *testing.T) {
	cfg = config.Default()
	cfg.Ingest.Symbols = []string{"SPY"}

	if got := symbolsOrDefault(""); len(got) != 1 || got[0] != "SPY" {
		t.Errorf("default = %v", got)
	}
	if got := symbolsOrDefault("aapl, msft,aapl"); len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("flag = %v", got)
	}
}

func TestParseDay(t *testing.T) {
	if _, err := parseDay("2024-02-30"); err == nil {
		t.Error("expected error for invalid date")
	}
	d, err := parseDay("2024-02-29")
	if err != nil || d.Day() != 29 {
		t.Errorf("parseDay = %v, %v", d, err)
	}
}
