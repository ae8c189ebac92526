package media

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Offer is the subset of an inbound INVITE's SDP this system acts on,
// extracted per spec §4.5: the first m=video line, its c= destination,
// the first a=rtpmap, and the GB28181 y=/f= extension lines.
type Offer struct {
	SessionID   string
	SessionVer  string
	ConnIP      string
	VideoPort   int
	Transport   string // "RTP/AVP" or "TCP/RTP/AVP"
	PayloadType uint8
	Codec       string // e.g. "H264"
	ClockRate   uint32
	SSRC        string // 10-digit decimal, verbatim from y=
	Format      string // raw f= value, parsed best-effort
	Recvonly    bool
}

// y=/f= are GB28181 extensions to RFC 4566 that a strict SDP grammar
// (including pion/sdp) has no vocabulary for. They are pulled out of
// the raw body by line scan before the remainder is handed to
// pion/sdp, per SPEC_FULL.md §4.5.
func extractExtensionLines(body []byte) (ssrc, format string, stripped []byte) {
	lines := bytes.Split(body, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		switch {
		case bytes.HasPrefix(trimmed, []byte("y=")):
			ssrc = strings.TrimSpace(string(trimmed[2:]))
			continue
		case bytes.HasPrefix(trimmed, []byte("f=")):
			format = strings.TrimSpace(string(trimmed[2:]))
			continue
		}
		out = append(out, line)
	}
	return ssrc, format, bytes.Join(out, []byte("\n"))
}

// ParseOffer parses an INVITE SDP offer body.
func ParseOffer(body []byte) (*Offer, error) {
	ssrc, format, stripped := extractExtensionLines(body)

	var sd psdp.SessionDescription
	if err := sd.Unmarshal(stripped); err != nil {
		return nil, fmt.Errorf("media: parse sdp: %w", err)
	}

	offer := &Offer{
		SessionID:  strconv.FormatUint(sd.Origin.SessionID, 10),
		SessionVer: strconv.FormatUint(sd.Origin.SessionVersion, 10),
		SSRC:       ssrc,
		Format:     format,
		ClockRate:  90000,
	}

	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		offer.ConnIP = sd.ConnectionInformation.Address.Address
	}

	var video *psdp.MediaDescription
	for i := range sd.MediaDescriptions {
		if sd.MediaDescriptions[i].MediaName.Media == "video" {
			video = sd.MediaDescriptions[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("media: sdp offer has no m=video line")
	}

	offer.VideoPort = video.MediaName.Port.Value
	offer.Transport = strings.Join(video.MediaName.Protos, "/")
	if video.ConnectionInformation != nil && video.ConnectionInformation.Address != nil {
		offer.ConnIP = video.ConnectionInformation.Address.Address
	}

	if len(video.MediaName.Formats) > 0 {
		if pt, err := strconv.Atoi(video.MediaName.Formats[0]); err == nil {
			offer.PayloadType = uint8(pt)
		}
	}

	for _, attr := range video.Attributes {
		switch attr.Key {
		case "rtpmap":
			if offer.Codec == "" {
				codec, clock := parseRtpmap(attr.Value)
				if codec != "" {
					offer.Codec = codec
				}
				if clock > 0 {
					offer.ClockRate = clock
				}
			}
		case "recvonly":
			offer.Recvonly = true
		}
	}
	if offer.Codec == "" {
		offer.Codec = "H264"
	}
	if offer.PayloadType == 0 {
		offer.PayloadType = 96
	}
	return offer, nil
}

// parseRtpmap parses "96 H264/90000" into ("H264", 90000).
func parseRtpmap(value string) (codec string, clockRate uint32) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return "", 0
	}
	encoding := strings.SplitN(parts[1], "/", 2)
	codec = encoding[0]
	if len(encoding) == 2 {
		if n, err := strconv.ParseUint(encoding[1], 10, 32); err == nil {
			clockRate = uint32(n)
		}
	}
	return codec, clockRate
}

// BuildAnswer renders the SDP answer for offer, binding the local
// media to contactIP:localPort. Per spec §4.5: echoes session-id,
// increments version, mirrors the offered payload type/codec, sets
// sendonly, and repeats the y= SSRC verbatim.
func BuildAnswer(offer *Offer, contactIP string, localPort int, sessionName string) ([]byte, error) {
	sessionID, _ := strconv.ParseUint(offer.SessionID, 10, 64)
	version, _ := strconv.ParseUint(offer.SessionVer, 10, 64)
	version++

	sd := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: contactIP,
		},
		SessionName: psdp.SessionName(sessionName),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: contactIP},
		},
		TimeDescriptions: []psdp.TimeDescription{{Timing: psdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "video",
					Port:    psdp.RangedPort{Value: localPort},
					Protos:  splitProtos(offer.Transport),
					Formats: []string{strconv.Itoa(int(offer.PayloadType))},
				},
				ConnectionInformation: &psdp.ConnectionInformation{
					NetworkType: "IN",
					AddressType: "IP4",
					Address:     &psdp.Address{Address: contactIP},
				},
				Attributes: []psdp.Attribute{
					{Key: "rtpmap", Value: fmt.Sprintf("%d %s/%d", offer.PayloadType, offer.Codec, offer.ClockRate)},
					{Key: "sendonly"},
				},
			},
		},
	}

	body, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("media: marshal sdp answer: %w", err)
	}
	if offer.SSRC != "" {
		body = append(body, []byte("y="+offer.SSRC+"\r\n")...)
	}
	return body, nil
}

func splitProtos(transport string) []string {
	if transport == "" {
		return []string{"RTP", "AVP"}
	}
	return strings.Split(transport, "/")
}
