package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"fusion-trading-bot/internal/exchange"
)

// csvColumns is the minimum column count:
// open_time, open, high, low, close, volume, close_time.
// Exchange kline exports append more columns after these; extras are
// ignored. Times are Unix milliseconds.
const csvColumns = 7

// LoadCSV reads a bar history from path. A header row is detected by a
// non-numeric first column and skipped.
func LoadCSV(path string) ([]exchange.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open bars: %w", err)
	}
	defer f.Close()

	bars, err := ReadBars(f)
	if err != nil {
		return nil, fmt.Errorf("backtest: %s: %w", path, err)
	}
	return bars, nil
}

// ReadBars parses CSV bar rows from r, enforcing ascending open times so a
// shuffled export fails loudly instead of silently skewing the replay.
func ReadBars(r io.Reader) ([]exchange.PriceBar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []exchange.PriceBar
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row+1, err)
		}
		row++

		if len(record) < csvColumns {
			return nil, fmt.Errorf("row %d: %d columns, need %d", row, len(record), csvColumns)
		}

		openTime, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			if row == 1 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: open_time %q: %w", row, record[0], err)
		}

		bar := exchange.PriceBar{OpenTime: openTime}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
			{"volume", &bar.Volume},
		}
		for i, field := range fields {
			value, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: %s %q: %w", row, field.name, record[i+1], err)
			}
			*field.dst = value
		}
		bar.CloseTime, err = strconv.ParseInt(record[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: close_time %q: %w", row, record[6], err)
		}

		if len(bars) > 0 && bar.OpenTime <= bars[len(bars)-1].OpenTime {
			return nil, fmt.Errorf("row %d: open_time %d not after previous %d", row, bar.OpenTime, bars[len(bars)-1].OpenTime)
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("no bar rows")
	}
	return bars, nil
}
