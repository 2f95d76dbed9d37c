package backtest

// StressWindow is one entry in §4.13's fixed table of historical crisis
// windows, expressed as calendar year/month bounds (inclusive) converted
// to month ordinals (years*12+month(0-based), matching internal/panel)
// against whatever month ordinal a particular dataset starts at.
type StressWindow struct {
	Name             string
	StartYear, StartMonth int // StartMonth is 1-based (January = 1)
	EndYear, EndMonth     int
}

// MonthOrdinal converts a calendar (year, 1-based month) into the
// month-ordinal convention internal/panel and internal/datasource use:
// years*12 + month(0-based).
func MonthOrdinal(year, month int) int {
	return year*12 + (month - 1)
}

// Start returns the window's inclusive start as a month ordinal.
func (w StressWindow) Start() int { return MonthOrdinal(w.StartYear, w.StartMonth) }

// End returns the window's inclusive end as a month ordinal.
func (w StressWindow) End() int { return MonthOrdinal(w.EndYear, w.EndMonth) }

// StressWindows is §4.13's fixed table of historical crisis windows.
var StressWindows = []StressWindow{
	{Name: "taper_tantrum_2013", StartYear: 2013, StartMonth: 5, EndYear: 2013, EndMonth: 9},
	{Name: "brazil_impeachment_2015", StartYear: 2015, StartMonth: 1, EndYear: 2016, EndMonth: 12},
	{Name: "joesley_day_2017", StartYear: 2017, StartMonth: 5, EndYear: 2017, EndMonth: 6},
	{Name: "covid_2020", StartYear: 2020, StartMonth: 2, EndYear: 2020, EndMonth: 6},
	{Name: "fed_hike_2022", StartYear: 2022, StartMonth: 1, EndYear: 2022, EndMonth: 12},
	{Name: "brazil_fiscal_2024", StartYear: 2024, StartMonth: 1, EndYear: 2024, EndMonth: 12},
}

// recordsInWindow returns the RunRecords whose Month falls within w
// (inclusive), and whether the dataset actually covers the window at
// all (§4.13: "if the backtest covers the window").
func recordsInWindow(records []RunRecord, w StressWindow) ([]RunRecord, bool) {
	start, end := w.Start(), w.End()
	out := make([]RunRecord, 0)
	for _, r := range records {
		if r.Month >= start && r.Month <= end {
			out = append(out, r)
		}
	}
	if len(records) == 0 {
		return out, false
	}
	firstMonth, lastMonth := records[0].Month, records[len(records)-1].Month
	covered := firstMonth <= end && lastMonth >= start
	return out, covered
}
