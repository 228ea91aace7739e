package ws

import "time"

type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) attrs(reason string) map[string]string {
	return map[string]string{
		"conn_id":     i.ConnID,
		"device_id":   i.DeviceID,
		"ip":          i.IP,
		"trace_id":    i.TraceID,
		"duration_ms": formatMillis(time.Since(i.ConnectedAt)),
		"reason":      reason,
	}
}
