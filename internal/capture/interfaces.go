package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"livecap/internal/models"
)

// DefaultDiscoveryTimeout bounds one interface listing.
const DefaultDiscoveryTimeout = 10 * time.Second

// DiscoveryError reports a failed interface listing. No partial results are
// returned with it.
type DiscoveryError struct {
	Tool   string
	Code   int
	Stderr string
	Err    error
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("list interfaces with %s", e.Tool)
	if e.Code != 0 {
		msg += fmt.Sprintf(": exit status %d", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// interfaceLine matches one line of "tshark -D", e.g.
//
//	1. eth0
//	5. lo (Loopback)
//	3. \Device\NPF_{6B1E...} (Ethernet)
var interfaceLine = regexp.MustCompile(`^(\d+)\.\s+(\S+)(?:\s+\((.*)\))?\s*$`)

// ParseInterfaceList parses discovery output. Blank lines are ignored and
// lines that do not follow the expected grammar are skipped with a warning.
func ParseInterfaceList(output string) []models.InterfaceInfo {
	var out []models.InterfaceInfo
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		m := interfaceLine.FindStringSubmatch(line)
		if m == nil {
			log.WithField("line", line).Warn("unrecognized interface list line")
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		out = append(out, models.InterfaceInfo{
			Index:       idx,
			Name:        m[2],
			Description: m[3],
		})
	}
	return out
}

// Lister discovers capture interfaces with the tool's discovery mode.
type Lister struct {
	Tool    string
	Timeout time.Duration
}

// ListInterfaces runs "<tool> -D" and returns one entry per recognized line,
// enriched with the host addresses of interfaces the OS knows by that name.
func (l Lister) ListInterfaces(ctx context.Context) ([]models.InterfaceInfo, error) {
	tool := l.Tool
	if tool == "" {
		tool = DefaultTool
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := commandContext(ctx, tool, "-D")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		derr := &DiscoveryError{Tool: tool, Stderr: strings.TrimSpace(stderr.String())}
		var exitErr interface{ ExitCode() int }
		switch {
		case ctx.Err() != nil:
			derr.Err = ctx.Err()
		case errors.As(err, &exitErr) && exitErr.ExitCode() > 0:
			derr.Code = exitErr.ExitCode()
		default:
			derr.Err = err
		}
		return nil, derr
	}

	ifaces := ParseInterfaceList(stdout.String())
	for i := range ifaces {
		ifaces[i].Addresses = hostAddresses(ifaces[i].Name)
	}
	return ifaces, nil
}

func hostAddresses(name string) []string {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			out = append(out, ipn.IP.String())
		}
	}
	return out
}
