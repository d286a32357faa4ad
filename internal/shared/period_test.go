package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseYearMonth(t *testing.T) {
	m, err := ParseYearMonth("2022-03")
	require.NoError(t, err)
	require.Equal(t, YM(2022, time.March), m)
	require.Equal(t, "2022-03", m.String())

	_, err = ParseYearMonth("202203")
	require.Error(t, err)
}

func TestAddMonthsCrossesYears(t *testing.T) {
	require.Equal(t, YM(2023, time.February), YM(2022, time.November).AddMonths(3))
	require.Equal(t, YM(2021, time.December), YM(2022, time.January).AddMonths(-1))
	require.Equal(t, YM(2019, time.June), YM(2022, time.June).AddMonths(-36))
}

func TestCompare(t *testing.T) {
	a := YM(2022, time.March)
	b := YM(2022, time.July)
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.Equal(t, 0, a.Compare(a))
	require.Equal(t, a, Min(a, b))
}

func TestMonthsBetween(t *testing.T) {
	months := MonthsBetween(YM(2022, time.November), YM(2023, time.January))
	require.Equal(t, []YearMonth{
		YM(2022, time.November),
		YM(2022, time.December),
		YM(2023, time.January),
	}, months)

	require.Nil(t, MonthsBetween(YM(2023, time.January), YM(2022, time.December)))
}

func TestMonthsCoveredExclusiveEnd(t *testing.T) {
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)

	// An end on the first of April covers January through March.
	months := MonthsCovered(from, &to, YM(2022, time.December))
	require.Equal(t, []YearMonth{
		YM(2022, time.January),
		YM(2022, time.February),
		YM(2022, time.March),
	}, months)
}

func TestMonthsCoveredMidMonthEnd(t *testing.T) {
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 4, 15, 0, 0, 0, 0, time.UTC)

	months := MonthsCovered(from, &to, YM(2022, time.December))
	require.Len(t, months, 4)
	require.Equal(t, YM(2022, time.April), months[3])
}

func TestMonthsCoveredOpenEndedBoundedByHorizon(t *testing.T) {
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	months := MonthsCovered(from, nil, YM(2022, time.March))
	require.Equal(t, []YearMonth{
		YM(2022, time.January),
		YM(2022, time.February),
		YM(2022, time.March),
	}, months)
}

func TestLastCoveredMonth(t *testing.T) {
	_, ok := LastCoveredMonth(nil)
	require.False(t, ok)

	to := time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)
	last, ok := LastCoveredMonth(&to)
	require.True(t, ok)
	require.Equal(t, YM(2022, time.March), last)
}
