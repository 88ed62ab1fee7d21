// Package output renders fetched data as tables for the CLI.
package output

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/gridlens/gridlens/internal/core"
)

// FormatHomes renders the account's homes.
func FormatHomes(homes []core.Home) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Time Zone", "Smart Meter", "Energy Deal", "Consumption"})

	for _, home := range homes {
		t.AppendRow(table.Row{
			home.ID,
			home.TimeZone,
			yesNo(home.HasSmartMeterCapabilities),
			yesNo(home.HasSignedEnergyDeal),
			yesNo(home.HasConsumption),
		})
	}

	return t.Render()
}

// FormatDevices renders a home's devices.
func FormatDevices(devices []core.Device) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Type", "Title", "ID", "Hidden"})

	for _, device := range devices {
		t.AppendRow(table.Row{device.Type, device.Title, device.ID, yesNo(device.IsHidden)})
	}

	return t.Render()
}

// FormatDeviceGroups renders device IDs grouped by type.
func FormatDeviceGroups(groups map[string][]string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Type", "Count", "IDs"})

	types := make([]string, 0, len(groups))
	for deviceType := range groups {
		types = append(types, deviceType)
	}
	sort.Strings(types)

	for _, deviceType := range types {
		ids := groups[deviceType]
		t.AppendRow(table.Row{deviceType, len(ids), joinShort(ids)})
	}

	return t.Render()
}

// FormatReport renders the compiled reward report.
func FormatReport(report *core.RewardReport) string {
	if report == nil {
		return ""
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Period", "EV", "Homevolt", "Total", "From", "To"})

	rows := []struct {
		name   string
		period core.RewardPeriod
	}{
		{"Current day", report.CurrentDay},
		{"Current month", report.CurrentMonth},
		{"Previous month", report.PreviousMonth},
		{"Year to date", report.Year},
	}
	for _, row := range rows {
		t.AppendRow(table.Row{
			row.name,
			amount(row.period.EV),
			amount(row.period.Homevolt),
			amount(row.period.Total),
			text(row.period.From),
			text(row.period.To),
		})
	}
	t.AppendFooter(table.Row{"", "", "Currency", report.Currency, "", ""})

	return t.Render()
}

// FormatPeriod renders a single reward period.
func FormatPeriod(period core.RewardPeriod) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"EV", "Homevolt", "Total", "Currency", "From", "To"})
	t.AppendRow(table.Row{
		amount(period.EV),
		amount(period.Homevolt),
		amount(period.Total),
		text(period.Currency),
		text(period.From),
		text(period.To),
	})
	return t.Render()
}

// FormatCacheStats renders response cache statistics.
func FormatCacheStats(stats core.CacheStats) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Entries", "Hits", "Misses", "Hit Rate", "Requests"})
	t.AppendRow(table.Row{
		stats.Entries,
		stats.Hits,
		stats.Misses,
		fmt.Sprintf("%.1f%%", stats.HitRate),
		stats.TotalRequests,
	})
	return t.Render()
}

// FormatLimiterState renders current rate limiter token counts.
func FormatLimiterState(state core.LimiterSnapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Tier", "Tokens"})
	t.AppendRow(table.Row{"Hourly", fmt.Sprintf("%.1f", state.HourlyTokens)})
	t.AppendRow(table.Row{"Burst", fmt.Sprintf("%.1f", state.BurstTokens)})
	return t.Render()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func amount(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

func text(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}

func joinShort(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		if len(id) > 8 {
			id = id[:8]
		}
		out += id
	}
	return out
}
