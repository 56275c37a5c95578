package webrtc

import (
	"time"

	"callnet/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// ntpMiddle returns the middle 32 bits of the NTP timestamp for t, as used by LSR/DLSR.
func ntpMiddle(t time.Time) uint32 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return uint32(secs<<16 | frac>>16)
}

// summarizeRTCP folds a batch of RTCP packets into quality metrics.
// Jitter is reported in RTP timestamp units and converted with clockRate.
func summarizeRTCP(packets []rtcp.Packet, clockRate uint32, now time.Time) (domain.NetworkMetrics, bool) {
	var (
		lossSum   float64
		jitterSum float64
		reports   int
		rttSum    time.Duration
		rttCount  int
	)

	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			lossSum += float64(report.FractionLost) / 256.0
			if clockRate > 0 {
				jitterSum += float64(report.Jitter) / float64(clockRate)
			}
			reports++

			if report.LastSenderReport != 0 {
				rtt := ntpMiddle(now) - report.LastSenderReport - report.Delay
				// anything above ten seconds is clock skew
				if rtt < 10*65536 {
					rttSum += time.Duration(rtt) * time.Second / 65536
					rttCount++
				}
			}
		}
	}

	if reports == 0 {
		return domain.NetworkMetrics{}, false
	}

	m := domain.NetworkMetrics{
		Timestamp:  now,
		PacketLoss: lossSum / float64(reports),
		Jitter:     time.Duration(jitterSum / float64(reports) * float64(time.Second)),
	}
	if rttCount > 0 {
		m.RoundTrip = rttSum / time.Duration(rttCount)
	}
	return m, true
}

// readRTCP reports receiver quality until the receiver is closed.
func (m *PeerManager) readRTCP(receiver *webrtc.RTPReceiver, clockRate uint32) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		if metrics, ok := summarizeRTCP(packets, clockRate, time.Now()); ok {
			m.emit(domain.QualityReported{Metrics: metrics})
		}
	}
}

// trackCounter accumulates RTP traffic for one remote track.
type trackCounter struct {
	packets uint64
	bytes   uint64
	lastSeq uint16
	started bool
	gaps    uint64
}

func (c *trackCounter) add(p *rtp.Packet, size int) {
	c.packets++
	c.bytes += uint64(size)

	if !c.started {
		c.started = true
		c.lastSeq = p.SequenceNumber
		return
	}
	// distance in sequence space; negative means a late packet
	ahead := int16(p.SequenceNumber - (c.lastSeq + 1))
	if ahead < 0 {
		return
	}
	c.gaps += uint64(ahead)
	c.lastSeq = p.SequenceNumber
}

// drainTrack reads the remote track until it ends so the receive buffers never fill up.
// Playback is outside this process; only counters are kept.
func (m *PeerManager) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	counter := &trackCounter{}

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			break
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			continue
		}
		counter.add(packet, n)

		if counter.packets%500 == 0 {
			m.emit(domain.QualityReported{Metrics: domain.NetworkMetrics{
				Timestamp:       time.Now(),
				PacketsReceived: counter.packets,
				BytesReceived:   counter.bytes,
			}})
		}
	}

	m.logger.Debugw("remote track ended",
		"call_id", m.callID,
		"kind", track.Kind().String(),
		"packets", counter.packets,
		"bytes", counter.bytes,
		"sequence_gaps", counter.gaps,
	)
}
