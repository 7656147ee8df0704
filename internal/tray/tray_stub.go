//go:build !tray

package tray

import (
	"fmt"

	"gravbar/internal/config"
	"gravbar/internal/monitor"
)

func Run(version string, m *monitor.Monitor, cfg config.Config) int {
	fmt.Println("gravbar: tray mode not available in this build")
	fmt.Println("rebuild with: go build -tags tray ./cmd/gravbar")
	return 1
}
