// Package locator discovers the running Antigravity language server: its
// PID, the per-launch CSRF token embedded in its command line, and the local
// TCP port it is listening on.
//
// There is no documented IPC contract with the server; discovery reads the
// process table and the process's open sockets instead.
package locator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	serverBinaryName = "language_server"
	instanceMarker   = "antigravity"
)

// The token flag carries a hex-with-dashes value, e.g.
// --csrf_token 1f2e3d4c-5b6a-7980-1f2e-3d4c5b6a7980
var csrfTokenPattern = regexp.MustCompile(`--csrf_token[=\s]+([0-9a-fA-F-]{8,})`)

var (
	ErrProcessNotFound   = errors.New("language server process not found")
	ErrCsrfTokenNotFound = errors.New("csrf token not found in server arguments")
	ErrPortNotFound      = errors.New("no listening port found for language server")
)

// ConnectionInfo is one discovered, currently-valid route to the language
// server. It is produced atomically by a single discovery pass and replaced
// wholesale, never patched.
type ConnectionInfo struct {
	PID       int32
	CsrfToken string
	Port      uint32
}

// Valid reports whether every field is usable.
func (c ConnectionInfo) Valid() bool {
	return c.PID != 0 && c.CsrfToken != "" && c.Port != 0
}

// Locator scans the process table for the language server. Discovery is
// synchronous and CPU-bound; callers run it off any serialization boundary
// and cache the result.
type Locator struct {
	binaryName string
	marker     string
}

func New() *Locator {
	return &Locator{binaryName: serverBinaryName, marker: instanceMarker}
}

// Discover runs one full discovery pass: process scan, token extraction,
// port scan. The first process whose executable path names the server binary
// and whose arguments carry both the token flag and the Antigravity instance
// marker is used.
func (l *Locator) Discover(ctx context.Context) (ConnectionInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ConnectionInfo{}, ErrProcessNotFound
	}

	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || !strings.Contains(exe, l.binaryName) {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || !l.matchesTarget(cmdline) {
			continue
		}

		token, err := extractToken(cmdline)
		if err != nil {
			return ConnectionInfo{}, err
		}
		port, err := listeningPort(ctx, p.Pid)
		if err != nil {
			return ConnectionInfo{}, err
		}
		return ConnectionInfo{PID: p.Pid, CsrfToken: token, Port: port}, nil
	}

	return ConnectionInfo{}, ErrProcessNotFound
}

// matchesTarget reports whether a command line belongs to the Antigravity
// instance of the server, as opposed to another editor embedding the same
// binary.
func (l *Locator) matchesTarget(cmdline string) bool {
	return strings.Contains(cmdline, "--csrf_token") &&
		strings.Contains(strings.ToLower(cmdline), l.marker)
}

func extractToken(cmdline string) (string, error) {
	m := csrfTokenPattern.FindStringSubmatch(cmdline)
	if m == nil {
		return "", ErrCsrfTokenNotFound
	}
	return m[1], nil
}

func listeningPort(ctx context.Context, pid int32) (uint32, error) {
	conns, err := gnet.ConnectionsPidWithContext(ctx, "tcp", pid)
	if err != nil {
		return 0, ErrPortNotFound
	}
	return pickListenPort(conns)
}

// pickListenPort selects the first TCP socket (v4 or v6) in the LISTEN state
// with a non-zero local port.
func pickListenPort(conns []gnet.ConnectionStat) (uint32, error) {
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port != 0 {
			return c.Laddr.Port, nil
		}
	}
	return 0, ErrPortNotFound
}
