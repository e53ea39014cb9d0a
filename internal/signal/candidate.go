package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// ParseTrickle extracts the candidate attribute from a trickled
// ICECandidateInit JSON payload. Only UDP candidates are accepted; TCP
// candidates yield ErrTCPCandidate.
func ParseTrickle(candidateInit string) (string, error) {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateInit), &init); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}
	if init.Candidate == "" {
		return "", fmt.Errorf("%w: empty candidate", ErrMalformedCandidate)
	}

	tcp, err := isTCP(init.Candidate)
	if err != nil {
		return "", err
	}
	if tcp {
		return "", ErrTCPCandidate
	}
	return init.Candidate, nil
}

// EncodeTrickle renders a candidate attribute as ICECandidateInit JSON.
func EncodeTrickle(candidate string) (string, error) {
	data, err := json.Marshal(webrtc.ICECandidateInit{Candidate: candidate})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func isTCP(candidate string) (bool, error) {
	raw := strings.TrimPrefix(candidate, "candidate:")
	fields := strings.Fields(raw)
	if len(fields) < 3 {
		return false, fmt.Errorf("%w: %q", ErrMalformedCandidate, candidate)
	}
	if strings.EqualFold(fields[2], "tcp") {
		return true, nil
	}

	// The transport field can be unusual; trust the ICE parser when it accepts the line.
	if c, err := ice.UnmarshalCandidate(raw); err == nil {
		return c.NetworkType().IsTCP(), nil
	}
	return false, nil
}
