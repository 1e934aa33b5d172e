package agentclient

import (
	"context"
	"os"
	"os/user"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"insafe-backend/internal/models"
)

// CollectSystemInfo builds the heartbeat snapshot. Fields that cannot be read
// on this platform are left zero.
func CollectSystemInfo(ctx context.Context) *models.SystemInfo {
	info := &models.SystemInfo{}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		info.Uptime = uptime
	}
	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.Memory = models.MemoryInfo{Total: vmem.Total, Free: vmem.Available}
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPU.Count = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		info.CPU.Usage = pct[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	return info
}

// DetectIdentity fills the registration fingerprint from the local machine.
func DetectIdentity(ctx context.Context) models.RegisterRequest {
	req := models.RegisterRequest{Platform: runtime.GOOS}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		req.Hostname = hi.Hostname
	}
	if req.Hostname == "" {
		req.Hostname, _ = os.Hostname()
	}
	if u, err := user.Current(); err == nil {
		req.Username = u.Username
	}
	req.MacAddress = primaryMAC(ctx)
	return req
}

func primaryMAC(ctx context.Context) string {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || hasFlag(iface.Flags, "loopback") || !hasFlag(iface.Flags, "up") {
			continue
		}
		return iface.HardwareAddr
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// statusSnapshot is the result of a get-status command.
func statusSnapshot(ctx context.Context, identity models.RegisterRequest) map[string]any {
	return map[string]any{
		"hostname":   identity.Hostname,
		"platform":   identity.Platform,
		"arch":       runtime.GOARCH,
		"systemInfo": CollectSystemInfo(ctx),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
}
