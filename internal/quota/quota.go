// Package quota holds the normalized per-model quota snapshot shared by the
// local language-server path and the direct cloud path.
package quota

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ModelQuota is one model's remaining-usage record within a snapshot.
// ModelKey is unique per entry; the full list is always replaced wholesale,
// never patched.
type ModelQuota struct {
	ModelKey          string     `json:"model_key"`
	DisplayLabel      string     `json:"display_label"`
	RemainingFraction float64    `json:"remaining_fraction"`
	ResetTime         *time.Time `json:"reset_time,omitempty"`
	SupportsImages    bool       `json:"supports_images"`
	IsNew             bool       `json:"is_new"`
}

// RemainingPercentage returns the remaining fraction scaled to 0-100.
// Upstream values are passed through unclamped.
func (q ModelQuota) RemainingPercentage() float64 {
	return q.RemainingFraction * 100
}

// Account is the user/plan metadata that rides a local-server snapshot.
// Cloud-only fetches leave it stale until a background local call lands.
type Account struct {
	UserName      string  `json:"user_name"`
	UserEmail     string  `json:"user_email"`
	TierName      string  `json:"tier_name"`
	PlanName      string  `json:"plan_name"`
	PromptCredits float64 `json:"prompt_credits"`
	FlowCredits   float64 `json:"flow_credits"`
}

// SortKey selects which field orders a quota list.
type SortKey int

const (
	SortByName SortKey = iota
	SortByUsage
	SortByReset
)

// ParseSortKey maps a config string to a SortKey. Unknown strings fall back
// to SortByName.
func ParseSortKey(s string) SortKey {
	switch strings.ToLower(s) {
	case "usage":
		return SortByUsage
	case "reset":
		return SortByReset
	default:
		return SortByName
	}
}

func (k SortKey) String() string {
	switch k {
	case SortByUsage:
		return "usage"
	case SortByReset:
		return "reset"
	default:
		return "name"
	}
}

// SortOrder pairs a key with a direction.
type SortOrder struct {
	Key        SortKey
	Descending bool
}

// Toggled flips the direction, keeping the key. Applying it twice yields the
// original order.
func (o SortOrder) Toggled() SortOrder {
	o.Descending = !o.Descending
	return o
}

// Sorted returns a copy of list ordered by o. The sort is stable; ties keep
// the order the caller supplied.
func Sorted(list []ModelQuota, o SortOrder) []ModelQuota {
	out := make([]ModelQuota, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		if o.Descending {
			i, j = j, i
		}
		return lessBy(o.Key, out[i], out[j])
	})
	return out
}

// Primary returns the first entry under the given order, used to pick which
// model a single status-bar slot shows.
func Primary(list []ModelQuota, o SortOrder) (ModelQuota, bool) {
	if len(list) == 0 {
		return ModelQuota{}, false
	}
	return Sorted(list, o)[0], true
}

func lessBy(key SortKey, a, b ModelQuota) bool {
	switch key {
	case SortByUsage:
		return a.RemainingFraction < b.RemainingFraction
	case SortByReset:
		// Entries without a reset time sort last.
		switch {
		case a.ResetTime == nil:
			return false
		case b.ResetTime == nil:
			return true
		default:
			return a.ResetTime.Before(*b.ResetTime)
		}
	default:
		return strings.ToLower(a.DisplayLabel) < strings.ToLower(b.DisplayLabel)
	}
}

// FormatCountdown renders the time until reset ("1h 1m", "2d 3h", "45m").
// A missing or elapsed reset time reads "Reset pending".
func FormatCountdown(reset, now time.Time) string {
	if reset.IsZero() || !reset.After(now) {
		return "Reset pending"
	}
	d := reset.Sub(now)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
