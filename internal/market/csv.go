package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"stock4n/internal/logger"
)

// csv 列名 -> 下标。首行必须是表头，列顺序不限。
var requiredCSVColumns = []string{"time", "open", "high", "low", "close", "volume"}

// ReadBarCSV 解析单个 {SYMBOL}_price.csv 文件。坏行跳过并告警，全部无效时报错。
func ReadBarCSV(path, symbol string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseBarCSV(f, symbol)
}

// ParseBarCSV 从任意 reader 解析日线 CSV。返回的序列按日期升序且去重。
func ParseBarCSV(r io.Reader, symbol string) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header failed: %w", err)
	}
	cols, err := resolveCSVColumns(header)
	if err != nil {
		return nil, err
	}

	byDay := make(map[int64]Bar)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warnf("csv 第 %d 行读取失败 (%s): %v", line, symbol, err)
			continue
		}
		bar, err := parseBarRecord(record, cols, symbol)
		if err != nil {
			logger.Warnf("csv 第 %d 行无效 (%s): %v", line, symbol, err)
			continue
		}
		byDay[bar.Day] = bar
	}
	if len(byDay) == 0 {
		return nil, fmt.Errorf("csv contains no valid rows for %s", symbol)
	}
	out := make([]Bar, 0, len(byDay))
	for _, b := range byDay {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func resolveCSVColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredCSVColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}
	return cols, nil
}

func parseBarRecord(record []string, cols map[string]int, symbol string) (Bar, error) {
	field := func(name string) (string, error) {
		idx := cols[name]
		if idx >= len(record) {
			return "", fmt.Errorf("row too short for column %q", name)
		}
		return strings.TrimSpace(record[idx]), nil
	}
	rawDay, err := field("time")
	if err != nil {
		return Bar{}, err
	}
	// vnstock 缓存偶见带时间部分的日期，截断即可。
	if len(rawDay) > len(DayFormat) {
		rawDay = rawDay[:len(DayFormat)]
	}
	day, err := ParseDay(rawDay)
	if err != nil {
		return Bar{}, err
	}
	nums := make(map[string]float64, 5)
	for _, name := range []string{"open", "high", "low", "close", "volume"} {
		raw, err := field(name)
		if err != nil {
			return Bar{}, err
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Bar{}, fmt.Errorf("column %q: %w", name, err)
		}
		nums[name] = val
	}
	if nums["close"] <= 0 {
		return Bar{}, fmt.Errorf("non-positive close %v", nums["close"])
	}
	return Bar{
		Symbol: symbol,
		Day:    day,
		Open:   nums["open"],
		High:   nums["high"],
		Low:    nums["low"],
		Close:  nums["close"],
		Volume: nums["volume"],
	}, nil
}
