package market

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBarCSV(t *testing.T) {
	raw := strings.Join([]string{
		"time,open,high,low,close,volume",
		"2024-01-03,101,103,100,102,1000",
		"2024-01-02,100,102,99,101,900",
		"2024-01-02 00:00:00,100,102,99,101.5,950", // 带时间部分且与上一行同日，后者覆盖
		"bad-date,1,2,3,4,5",
		"2024-01-04,102,104,101,0,1100", // close<=0 跳过
	}, "\n")

	bars, err := ParseBarCSV(strings.NewReader(raw), "vcb")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "VCB", bars[0].Symbol)
	assert.Equal(t, "2024-01-02", FormatDay(bars[0].Day))
	assert.Equal(t, 101.5, bars[0].Close)
	assert.Equal(t, "2024-01-03", FormatDay(bars[1].Day))
}

func TestParseBarCSVHeaderMissingColumn(t *testing.T) {
	raw := "time,open,high,low,close\n2024-01-02,1,2,3,4\n"
	_, err := ParseBarCSV(strings.NewReader(raw), "VCB")
	assert.ErrorContains(t, err, "volume")
}

func TestParseBarCSVAllRowsInvalid(t *testing.T) {
	raw := "time,open,high,low,close,volume\nnot-a-date,1,2,3,4,5\n"
	_, err := ParseBarCSV(strings.NewReader(raw), "VCB")
	assert.Error(t, err)
}

func TestEntryPriceFallsBackToClose(t *testing.T) {
	assert.Equal(t, 12.5, Bar{Open: 0, Close: 12.5}.EntryPrice())
	assert.Equal(t, 11.0, Bar{Open: 11, Close: 12.5}.EntryPrice())
}

func TestDayHelpers(t *testing.T) {
	ms, err := ParseDay("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", FormatDay(ms))
	assert.Equal(t, 3, MonthOf(ms))
	assert.Equal(t, 1, QuarterOf(ms))
	assert.Equal(t, "2024-03-20", FormatDay(AddDays(ms, 5)))
	assert.Equal(t, ms, TruncateDay(ms+12345))
}
