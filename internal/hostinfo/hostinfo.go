// Package hostinfo describes the machine the collector runs on.
package hostinfo

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// OSInfo is the document stored in an instance's os_info column
type OSInfo struct {
	HostName  string   `json:"hostName"`
	OSName    string   `json:"osName"`
	ProcessNo int      `json:"processNo"`
	IPv4s     []string `json:"ipv4s,omitempty"`
}

// Describe gathers the host description. Missing pieces are left empty
// rather than failing the whole lookup.
func Describe() OSInfo {
	info := OSInfo{
		OSName:    runtime.GOOS,
		ProcessNo: os.Getpid(),
	}

	if stat, err := host.Info(); err == nil {
		info.HostName = stat.Hostname
		if stat.OS != "" {
			info.OSName = stat.OS
		}
	}
	if info.HostName == "" {
		if name, err := os.Hostname(); err == nil {
			info.HostName = name
		}
	}

	info.IPv4s = ipv4s()
	return info
}

// Collect returns the host description as os_info JSON
func Collect() (string, error) {
	data, err := json.Marshal(Describe())
	if err != nil {
		return "", fmt.Errorf("failed to marshal os info: %w", err)
	}
	return string(data), nil
}

func ipv4s() []string {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		return nil
	}

	var addrs []string
	for _, iface := range interfaces {
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}
