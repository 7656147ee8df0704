//go:build tray

// Package tray is the thin status-bar consumer of monitor snapshots. All
// quota logic lives in the monitor; this package only renders.
package tray

import (
	"context"
	"fmt"
	"time"

	"fyne.io/systray"

	"gravbar/internal/config"
	"gravbar/internal/monitor"
	"gravbar/internal/quota"
)

const maxModelRows = 8

func Run(version string, m *monitor.Monitor, cfg config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	systray.Run(func() { onReady(ctx, m, cfg) }, cancel)
	return 0
}

func onReady(ctx context.Context, m *monitor.Monitor, cfg config.Config) {
	systray.SetTitle("gravbar")
	systray.SetTooltip("Antigravity quota monitor")

	mAccount := systray.AddMenuItem("…", "")
	mAccount.Disable()
	systray.AddSeparator()

	rows := make([]*systray.MenuItem, maxModelRows)
	for i := range rows {
		rows[i] = systray.AddMenuItem("", "")
		rows[i].Disable()
		rows[i].Hide()
	}

	systray.AddSeparator()
	mRefresh := systray.AddMenuItem("Refresh Now", "")
	mQuit := systray.AddMenuItem("Quit", "")

	go m.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.Updates():
				render(m.Snapshot(), cfg, mAccount, rows)
			case <-mRefresh.ClickedCh:
				go m.ForceRefresh(ctx)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func render(snap monitor.Snapshot, cfg config.Config, mAccount *systray.MenuItem, rows []*systray.MenuItem) {
	switch {
	case snap.IsLoading() && len(snap.Quotas) == 0:
		systray.SetTitle("gravbar …")
	case snap.State == monitor.StateError:
		systray.SetTitle("gravbar ⚠")
		mAccount.SetTitle(snap.Error)
	default:
		if primary, ok := pickPrimary(snap, cfg); ok {
			systray.SetTitle(fmt.Sprintf("%s %.0f%%", primary.DisplayLabel, primary.RemainingPercentage()))
		}
		mAccount.SetTitle(accountLine(snap))
	}

	now := time.Now()
	sorted := quota.Sorted(snap.Quotas, cfg.SortOrder())
	for i, row := range rows {
		if i >= len(sorted) {
			row.Hide()
			continue
		}
		q := sorted[i]
		resetIn := "Reset pending"
		if q.ResetTime != nil {
			resetIn = quota.FormatCountdown(*q.ResetTime, now)
		}
		row.SetTitle(fmt.Sprintf("%s  %.0f%%  %s", q.DisplayLabel, q.RemainingPercentage(), resetIn))
		row.Show()
	}
}

// pickPrimary returns the model shown in the status-bar title: the first
// configured menu-bar item with an explicit model key, otherwise the sort
// winner.
func pickPrimary(snap monitor.Snapshot, cfg config.Config) (quota.ModelQuota, bool) {
	for _, item := range cfg.Items {
		if item.ModelKey == "" {
			continue
		}
		for _, q := range snap.Quotas {
			if q.ModelKey == item.ModelKey {
				return q, true
			}
		}
	}
	return quota.Primary(snap.Quotas, cfg.SortOrder())
}

func accountLine(snap monitor.Snapshot) string {
	a := snap.Account
	if a.UserEmail == "" {
		return "Not signed in"
	}
	src := "local"
	if snap.CloudSourced {
		src = "cloud"
	}
	return fmt.Sprintf("%s — %s (%s)", a.UserEmail, a.PlanName, src)
}
