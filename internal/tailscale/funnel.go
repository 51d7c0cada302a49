package tailscale

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// tsStatus is a minimal subset of `tailscale status --json` output.
type tsStatus struct {
	Self struct {
		DNSName string `json:"DNSName"`
	} `json:"Self"`
}

// EnsureInstalled checks that the tailscale CLI is available.
func EnsureInstalled() error {
	if _, err := exec.LookPath("tailscale"); err != nil {
		return fmt.Errorf("tailscale CLI not found in PATH, install from https://tailscale.com/download")
	}
	return nil
}

// PublicURL returns the deterministic HTTPS URL for a funnelled port,
// e.g. "https://machine.tailnet.ts.net".
func PublicURL() (string, error) {
	out, err := exec.Command("tailscale", "status", "--json").Output()
	if err != nil {
		return "", fmt.Errorf("tailscale status: %w (is tailscale running?)", err)
	}
	return parseStatus(out)
}

func parseStatus(out []byte) (string, error) {
	var status tsStatus
	if err := json.Unmarshal(out, &status); err != nil {
		return "", fmt.Errorf("parse tailscale status: %w", err)
	}

	dns := strings.TrimSuffix(status.Self.DNSName, ".")
	if dns == "" {
		return "", fmt.Errorf("tailscale: empty DNS name, is the node connected?")
	}
	return "https://" + dns, nil
}

// WebhookURL is the provider-facing webhook URL of one inbox.
func WebhookURL(baseURL string, inboxID int64) string {
	return strings.TrimSuffix(baseURL, "/") + "/webhooks/" + strconv.FormatInt(inboxID, 10)
}

// StartFunnel runs `tailscale funnel <port>` in the background and returns
// the public base URL. The caller owns the process and must kill it on
// shutdown.
func StartFunnel(log *slog.Logger, port string) (baseURL string, proc *os.Process, err error) {
	if log == nil {
		log = slog.Default()
	}
	if err := EnsureInstalled(); err != nil {
		return "", nil, err
	}

	baseURL, err = PublicURL()
	if err != nil {
		return "", nil, err
	}

	cmd := exec.Command("tailscale", "funnel", port)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("start tailscale funnel: %w", err)
	}

	log.Info("tailscale funnel started", slog.String("port", port), slog.String("url", baseURL))
	return baseURL, cmd.Process, nil
}

// PortOf extracts the port from a listen address such as ":18790".
func PortOf(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[i+1:]
	}
	return addr
}
