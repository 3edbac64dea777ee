package network

import (
	"context"
	"regexp"
	"runtime"
	"strings"

	"github.com/xtxerr/netmon/internal/constants"
	"github.com/xtxerr/netmon/internal/errors"
)

// Detector reports the raw name of the network the host is connected to.
type Detector interface {
	Detect(ctx context.Context) (string, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context) (string, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticDetector always reports the same name.
type StaticDetector struct {
	Name string
}

// Detect returns the configured name.
func (d StaticDetector) Detect(context.Context) (string, error) {
	return d.Name, nil
}

// Chain tries each detector in order and returns the first non-empty name.
//
// When at least one detector answered without a name the host is on no
// wireless network and Chain returns an empty name. It fails only when
// every detector failed.
type Chain []Detector

// Detect implements Detector.
func (c Chain) Detect(ctx context.Context) (string, error) {
	var (
		errs     []error
		answered bool
	)
	for _, d := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, err := d.Detect(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if name != "" {
			return name, nil
		}
		answered = true
	}
	if !answered && len(errs) > 0 {
		return "", errors.Wrap(errors.ErrDetection, errors.Join(errs...).Error())
	}
	return "", nil
}

// NewPlatformDetector returns the detector chain for goos. An empty goos
// selects the running platform.
func NewPlatformDetector(r Runner, goos string) Detector {
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "linux":
		return Chain{NMCLI(r), IWGetID(r), IWConfig(r)}
	case "darwin":
		return Chain{Airport(r), NetworkSetup(r)}
	case "windows":
		return Chain{Netsh(r)}
	default:
		return StaticDetector{Name: constants.UnknownNetwork}
	}
}

// NMCLI queries NetworkManager for the active wifi connection.
func NMCLI(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
		if err != nil {
			return "", err
		}
		return parseNMCLI(out), nil
	})
}

func parseNMCLI(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if ssid, ok := strings.CutPrefix(strings.TrimSpace(line), "yes:"); ok {
			return ssid
		}
	}
	return ""
}

// IWGetID reads the ESSID with iwgetid.
func IWGetID(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, "iwgetid", "-r")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out), nil
	})
}

var essidRe = regexp.MustCompile(`ESSID:"([^"]*)"`)

// IWConfig parses the ESSID from iwconfig output.
func IWConfig(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, "iwconfig")
		if err != nil {
			return "", err
		}
		return parseIWConfig(out), nil
	})
}

func parseIWConfig(out string) string {
	m := essidRe.FindStringSubmatch(out)
	if m == nil || m[1] == "off/any" {
		return ""
	}
	return m[1]
}

const airportPath = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

// Airport parses the SSID from the macOS airport utility.
func Airport(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, airportPath, "-I")
		if err != nil {
			return "", err
		}
		return parseAirport(out), nil
	})
}

func parseAirport(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		// BSSID lines carry the access point address, not the name.
		if ssid, ok := strings.CutPrefix(line, "SSID:"); ok {
			return strings.TrimSpace(ssid)
		}
	}
	return ""
}

// NetworkSetup asks networksetup for the network of en0.
func NetworkSetup(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, "networksetup", "-getairportnetwork", "en0")
		if err != nil {
			return "", err
		}
		_, ssid, ok := strings.Cut(out, "Current Wi-Fi Network:")
		if !ok {
			return "", nil
		}
		return strings.TrimSpace(ssid), nil
	})
}

// Netsh parses the SSID of the connected interface from netsh.
func Netsh(r Runner) Detector {
	return DetectorFunc(func(ctx context.Context) (string, error) {
		out, err := r.Output(ctx, "netsh", "wlan", "show", "interfaces")
		if err != nil {
			return "", err
		}
		return parseNetsh(out), nil
	})
}

func parseNetsh(out string) string {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "SSID" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
