package calendar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_ScanAndValue(t *testing.T) {
	d := NewDate(2024, time.February, 29)
	v, err := d.Value()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", v)

	var got Date
	require.NoError(t, got.Scan("2024-02-29"))
	assert.Equal(t, d, got)

	require.NoError(t, got.Scan([]byte("2024-03-01T00:00:00Z")))
	assert.Equal(t, NewDate(2024, time.March, 1), got)

	require.NoError(t, got.Scan(nil))
	assert.True(t, got.IsZero())

	v, err = Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, got.Scan("not a date"))
}

func TestDate_WeekHelpers(t *testing.T) {
	wed := MustParseDate("2024-01-03")
	assert.Equal(t, time.Wednesday, wed.Weekday())
	assert.Equal(t, MustParseDate("2024-01-01"), wed.StartOfWeek())

	sun := MustParseDate("2024-01-07")
	assert.Equal(t, MustParseDate("2024-01-01"), sun.StartOfWeek())

	assert.Equal(t, MustParseDate("2024-02-29"), MustParseDate("2024-02-10").EndOfMonth())
	assert.Equal(t, MustParseDate("2023-02-28"), MustParseDate("2023-02-10").EndOfMonth())
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Day Date `json:"day"`
	}
	raw, err := json.Marshal(wrapper{Day: MustParseDate("2024-12-31")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2024-12-31"}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, MustParseDate("2024-12-31"), back.Day)
}

func TestRange(t *testing.T) {
	days := Range(MustParseDate("2023-12-30"), MustParseDate("2024-01-02"))
	require.Len(t, days, 4)
	assert.Equal(t, MustParseDate("2024-01-01"), days[2])
	assert.Nil(t, Range(MustParseDate("2024-01-02"), MustParseDate("2024-01-01")))
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(450), tod)
	assert.Equal(t, "07:30", tod.String())

	tod, err = ParseTimeOfDay("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, "23:59", tod.String())

	for _, bad := range []string{"24:00", "7", "aa:bb", "12:60"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}

	assert.False(t, TimeOfDay(-1).Valid())
	assert.False(t, TimeOfDay(24*60).Valid())
}
