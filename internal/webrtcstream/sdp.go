package webrtcstream

import (
	"fmt"
	"strings"
)

// rewriteForLowLatency appends the RTCP feedback lines (nack, pli,
// goog-remb, transport-cc) and a detector-id marker line to an SDP answer,
// mirroring the hand-rewriting the original service performed before
// handing the answer back to the browser.
func rewriteForLowLatency(sdp string, detectorID string) string {
	if !strings.HasSuffix(sdp, "\r\n") {
		sdp += "\r\n"
	}
	sdp += "a=rtcp-fb:96 nack\r\n"
	sdp += "a=rtcp-fb:96 nack pli\r\n"
	sdp += "a=rtcp-fb:96 goog-remb\r\n"
	sdp += "a=rtcp-fb:96 transport-cc\r\n"
	sdp += fmt.Sprintf("a=detector_id:%s\r\n", detectorID)
	return sdp
}

// withDetectorID appends just the routing marker line, used by the HTTP
// offer handler to tag an offer before forwarding it to the TCP signalling
// listener, which has no other way to know which detector the browser wants.
func withDetectorID(sdp string, detectorID string) string {
	if !strings.HasSuffix(sdp, "\r\n") {
		sdp += "\r\n"
	}
	return sdp + fmt.Sprintf("a=detector_id:%s\r\n", detectorID)
}

// detectorIDFromSDP extracts the detector id previously embedded by
// withDetectorID or rewriteForLowLatency, used by the TCP signalling
// listener to route an incoming offer to the right track.
func detectorIDFromSDP(sdp string) (string, bool) {
	const marker = "a=detector_id:"
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}
