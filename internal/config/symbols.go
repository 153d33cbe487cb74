package config

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadSymbolsFile reads the first column of a CSV file with a header row and
// returns the symbols found, upper-cased, in file order.
func LoadSymbolsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbols file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading symbols file %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		if sym := strings.ToUpper(strings.TrimSpace(row[0])); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}

// mergeSymbols appends extra to base, dropping repeats.
func mergeSymbols(base, extra []string) []string {
	return SplitSymbols(strings.Join(append(append([]string{}, base...), extra...), ","))
}
