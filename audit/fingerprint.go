package audit

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
)

// Version is stamped at build time with -ldflags "-X secure-ledger/audit.Version=...".
var Version = "dev"

// DeviceInfo identifies where an action originated: the first active
// non-loopback MAC address, the OS user and the host.
func DeviceInfo() string {
	mac := "Unknown"
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			mac = iface.HardwareAddr.String()
			break
		}
	}

	uid := "Unknown"
	if u, err := user.Current(); err == nil {
		uid = fmt.Sprintf("%s (%s)", u.Uid, u.Username)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "Unknown"
	}
	return fmt.Sprintf("MAC: %s, UID: %s, Host: %s", mac, uid, host)
}

// AppMetadata describes the running binary: version and a truncated SHA-256
// of the executable.
func AppMetadata() string {
	hash := "N/A"
	if exe, err := os.Executable(); err == nil {
		if h, err := fileHash(exe); err == nil {
			hash = h
		}
	}
	return fmt.Sprintf("secure-ledger %s, Hash: %s...", Version, hash)
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))[:16], nil
}
