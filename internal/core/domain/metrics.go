package domain

import "time"

// NetworkMetrics summarizes the media quality reported by the remote side.
type NetworkMetrics struct {
	Timestamp       time.Time
	PacketLoss      float64 // fraction 0..1
	Jitter          time.Duration
	RoundTrip       time.Duration
	PacketsReceived uint64
	BytesReceived   uint64
}
