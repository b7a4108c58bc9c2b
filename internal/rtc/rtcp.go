package rtc

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// lossWarnThreshold is a FractionLost value (out of 256) worth logging.
const lossWarnThreshold = 26

// drainRTCP reads RTCP for sender so interceptors keep running, and logs
// receiver reports with noticeable loss. It returns when the sender stops.
func drainRTCP(logf func(string, ...any), peerID int, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				if report.FractionLost >= lossWarnThreshold {
					logf("peer %d reports loss %d/256 jitter=%d", peerID, report.FractionLost, report.Jitter)
				}
			}
		}
	}
}
