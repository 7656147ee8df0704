package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"gravbar/internal/cache"
	"gravbar/internal/forecast"
	"gravbar/internal/monitor"
	"gravbar/internal/quota"
)

const (
	barWidth     = 20
	fetchTimeout = 30 * time.Second
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func color(remainingPct float64) string {
	switch {
	case remainingPct <= 20:
		return "\033[31m" // red
	case remainingPct <= 40:
		return "\033[33m" // yellow
	default:
		return "\033[32m" // green
	}
}

const reset = "\033[0m"

func bar(remainingPct float64) string {
	filled := int(math.Round(remainingPct / 100 * barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

func countdown(q quota.ModelQuota, now time.Time) string {
	if q.ResetTime == nil {
		return "Reset pending"
	}
	return quota.FormatCountdown(*q.ResetTime, now)
}

func PrintColor(quotas []quota.ModelQuota, account quota.Account) {
	now := time.Now()
	width := labelWidth(quotas)
	for _, q := range quotas {
		pct := q.RemainingPercentage()
		line := fmt.Sprintf("%-*s %s%s%s %3.0f%%  resets %s",
			width, q.DisplayLabel, color(pct), bar(pct), reset, pct, countdown(q, now))
		if q.ResetTime != nil {
			p := forecast.Project(q.RemainingFraction, *q.ResetTime, forecast.DefaultWindow)
			line += "  " + p.ColorIndicator()
		}
		fmt.Println(line)
	}
	if account.UserEmail != "" {
		fmt.Printf("%s  %s/%s\n", account.UserEmail, account.TierName, account.PlanName)
	}
}

func PrintPlain(quotas []quota.ModelQuota) {
	now := time.Now()
	for _, q := range quotas {
		fmt.Printf("%s: %.0f%% (resets %s)\n",
			q.DisplayLabel, q.RemainingPercentage(), countdown(q, now))
	}
}

func labelWidth(quotas []quota.ModelQuota) int {
	width := 0
	for _, q := range quotas {
		if len(q.DisplayLabel) > width {
			width = len(q.DisplayLabel)
		}
	}
	return width
}

type JSONOutput struct {
	Quotas  []quota.ModelQuota `json:"quotas"`
	Account quota.Account      `json:"account"`
	Cache   *CacheInfo         `json:"cache,omitempty"`
}

type CacheInfo struct {
	Hit       bool      `json:"hit"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

func PrintJSON(quotas []quota.ModelQuota, account quota.Account, cacheEntry *cache.Entry) {
	out := JSONOutput{Quotas: quotas, Account: account}
	if cacheEntry != nil {
		out.Cache = &CacheInfo{Hit: true, FetchedAt: cacheEntry.FetchedAt}
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

// Status runs the one-shot report: recent cache if valid, otherwise a fresh
// force refresh through the monitor.
func Status(m *monitor.Monitor, order quota.SortOrder, jsonMode, plainMode bool) int {
	if entry, err := cache.Read(); err == nil && entry.IsValid() {
		printEntry(quota.Sorted(entry.Quotas, order), entry.Account, entry, jsonMode, plainMode)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	m.ForceRefresh(ctx)
	snap := m.Snapshot()
	if !snap.IsConnected() {
		fmt.Fprintf(os.Stderr, "gravbar: %s\n", snap.Error)
		return 1
	}

	_ = cache.Write(snap.Quotas, snap.Account, snap.CloudSourced)

	printEntry(quota.Sorted(snap.Quotas, order), snap.Account, nil, jsonMode, plainMode)
	return 0
}

func printEntry(quotas []quota.ModelQuota, account quota.Account, entry *cache.Entry, jsonMode, plainMode bool) {
	if jsonMode {
		PrintJSON(quotas, account, entry)
	} else if plainMode || !isTTY() {
		PrintPlain(quotas)
	} else {
		PrintColor(quotas, account)
	}
}
