package dialog

import (
	"net"
	"strings"

	"github.com/firestige/gb28181-nvr/internal/catalog"
	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/media"
	"github.com/firestige/gb28181-nvr/internal/metrics"
	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

// handleInvite negotiates the SDP offer against a channel's media
// handle and spawns the session, per spec §4.5: 100 Trying
// immediately, 200 OK with the answer once the pipeline is up, 488
// Not Acceptable Here if negotiation or pipeline start fails.
func (d *Dispatcher) handleInvite(msg *siptransport.Message, from net.Addr) {
	d.respond(msg, from, 100, "Trying", nil, "")

	channelID := requestURIUser(msg.RequestURI)
	channel, ok := findChannel(d.Catalog.GetCatalog(), channelID)
	if !ok {
		log.GetLogger().WithField("channel_id", channelID).Warn("dialog: invite for unknown channel")
		d.respond(msg, from, 404, "Not Found", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("INVITE", "404").Inc()
		return
	}

	offer, err := media.ParseOffer(msg.Body)
	if err != nil {
		log.GetLogger().WithError(err).Warn("dialog: unparsable sdp offer")
		d.respond(msg, from, 488, "Not Acceptable Here", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("INVITE", "488").Inc()
		return
	}

	source := channelSourceFor(channel)
	dlg := NewFromRequest(msg)
	dlg.RemoteTarget = msg.Header("Contact")
	dlg.RouteSet = siptransport.ReverseRouteSet(siptransport.ParseRecordRoute(msg.Header("Record-Route")))

	sess, err := d.Sessions.StartSession(dlg.CallID, source, offer)
	if err != nil {
		log.GetLogger().WithError(err).WithField("channel_id", channelID).Warn("dialog: media session start failed")
		d.respond(msg, from, 488, "Not Acceptable Here", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("INVITE", "488").Inc()
		return
	}
	sess.OnGiveUp(func(sessionID string) {
		log.GetLogger().WithField("session_id", sessionID).Warn("dialog: session exhausted restarts, sending BYE")
		d.sendBye(dlg)
	})

	dlg.MediaSessionID = channelID
	d.Dialogs.Put(dlg)

	answer, err := media.BuildAnswer(offer, d.ContactIP, offer.VideoPort, d.DeviceID)
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: build sdp answer failed")
		d.respond(msg, from, 488, "Not Acceptable Here", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("INVITE", "488").Inc()
		return
	}

	d.respond(msg, from, 200, "OK", answer, "application/sdp")
	metrics.SipRequestsTotal.WithLabelValues("INVITE", "200").Inc()
}

// sendBye sends a dialog-initiated BYE, used when a session gives up
// restarting and this device ends the call rather than leaving a dead
// stream open.
func (d *Dispatcher) sendBye(dlg *Dialog) {
	dest, err := net.ResolveUDPAddr("udp", d.Registrar.cfg.Server)
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: resolve bye destination failed")
		return
	}
	branch := siptransport.NewBranch()
	reqURI := dlg.RemoteTarget
	if reqURI == "" {
		reqURI = "sip:" + d.Registrar.cfg.Server
	}
	b := siptransport.NewRequestBuilder("BYE", reqURI).
		AddHeader("Via", siptransport.BuildVia(d.Transport, d.LocalIP, d.LocalPort, branch)).
		AddHeader("From", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, dlg.LocalTag)).
		AddHeader("To", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, dlg.RemoteTag)).
		AddHeader("Call-ID", dlg.CallID).
		AddHeader("CSeq", "1 BYE")
	for _, route := range dlg.RouteSet {
		b.AddHeader("Route", route)
	}
	if err := d.Tr.SendRequest(dest, branch, "BYE", b.Build()); err != nil {
		log.GetLogger().WithError(err).Error("dialog: send bye failed")
	}
	d.Dialogs.Delete(dlg.CallID)
}

// requestURIUser extracts the user part of a sip: request-URI
// ("sip:340200000011100000001@host:port" -> "340200000011100000001").
func requestURIUser(uri string) string {
	rest := strings.TrimPrefix(uri, "sip:")
	rest = strings.TrimPrefix(rest, "sips:")
	if idx := strings.IndexByte(rest, '@'); idx >= 0 {
		return rest[:idx]
	}
	if idx := strings.IndexByte(rest, ';'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

func findChannel(channels []catalog.Channel, channelID string) (catalog.Channel, bool) {
	for _, ch := range channels {
		if ch.ChannelID == channelID {
			return ch, true
		}
	}
	return catalog.Channel{}, false
}

// channelSourceFor turns a catalog channel's media handle into the
// media.ChannelSource the session manager needs: an rtsp:// handle is
// a live source, anything else is a local file path.
func channelSourceFor(ch catalog.Channel) media.ChannelSource {
	if strings.HasPrefix(ch.MediaHandle, "rtsp://") {
		return media.ChannelSource{ChannelID: ch.ChannelID, RTSPURL: ch.MediaHandle}
	}
	return media.ChannelSource{ChannelID: ch.ChannelID, FilePath: ch.MediaHandle, LoopPlayback: true}
}
