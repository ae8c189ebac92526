package dialog

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/firestige/gb28181-nvr/internal/catalog"
	"github.com/firestige/gb28181-nvr/internal/log"
	"github.com/firestige/gb28181-nvr/internal/manscdp"
	"github.com/firestige/gb28181-nvr/internal/media"
	"github.com/firestige/gb28181-nvr/internal/metrics"
	"github.com/firestige/gb28181-nvr/internal/siptransport"
)

// Dispatcher routes every inbound SIP request by method, and MANSCDP
// MESSAGE bodies by CmdType, per spec §4.4. It is the single handler
// registered with siptransport.Listen.
type Dispatcher struct {
	DeviceID  string
	LocalIP   string
	LocalPort int
	ContactIP string
	Transport string

	Tr         *siptransport.Transport
	Registrar  *Registrar
	Dialogs    *Table
	Catalog    *catalog.Store
	Sessions   *media.SessionManager
	Subscribes *SubscriptionTable

	DatagramBudget int
}

// Handle implements siptransport.Handler.
func (d *Dispatcher) Handle(msg *siptransport.Message, from net.Addr) {
	if !msg.IsRequest {
		d.handleResponse(msg)
		return
	}

	switch msg.Method {
	case "REGISTER":
		// This device is a UAC only; it never accepts inbound
		// registrations (spec §4.4: "REGISTER -> 405").
		d.respond(msg, from, 405, "Method Not Allowed", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("REGISTER", "405").Inc()

	case "MESSAGE":
		d.handleMessage(msg, from)

	case "INVITE":
		d.handleInvite(msg, from)

	case "BYE":
		d.handleBye(msg, from)

	case "ACK":
		metrics.SipRequestsTotal.WithLabelValues("ACK", "consumed").Inc()

	case "SUBSCRIBE":
		d.handleSubscribe(msg, from)

	case "OPTIONS":
		d.respond(msg, from, 200, "OK", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("OPTIONS", "200").Inc()

	default:
		d.respond(msg, from, 501, "Not Implemented", nil, "")
		metrics.SipRequestsTotal.WithLabelValues(msg.Method, "501").Inc()
	}
}

// handleResponse routes responses to REGISTER (matched by the
// registrar's Call-ID and the CSeq method) to the Registrar. Responses
// to the device's other requests (keepalive and catalog MESSAGEs,
// NOTIFY, BYE) are only used by the transport to stop retransmission.
func (d *Dispatcher) handleResponse(msg *siptransport.Message) {
	if d.Registrar == nil || msg.CallID != d.Registrar.callID {
		return
	}
	if !strings.HasSuffix(strings.TrimSpace(msg.CSeq), "REGISTER") {
		return
	}
	d.Registrar.HandleResponse(msg)
}

func (d *Dispatcher) handleMessage(msg *siptransport.Message, from net.Addr) {
	query, err := manscdp.Parse(msg.Body)
	if err != nil {
		log.GetLogger().WithError(err).Warn("dialog: unparsable MANSCDP message")
		d.respond(msg, from, 400, "Bad Request", nil, "")
		metrics.SipRequestsTotal.WithLabelValues("MESSAGE", "400").Inc()
		return
	}

	switch query.CmdType {
	case manscdp.CmdCatalog:
		d.handleCatalogQuery(msg, from, query)
	case manscdp.CmdRecordInfo:
		d.handleRecordInfoQuery(msg, from, query)
	case manscdp.CmdDeviceInfo:
		body, _ := manscdp.RenderDeviceInfo(query.SN, d.DeviceID, d.DeviceID)
		d.respond(msg, from, 200, "OK", body, "Application/MANSCDP+xml")
	case manscdp.CmdDeviceStatus:
		body, _ := manscdp.RenderDeviceStatus(query.SN, d.DeviceID, "ON")
		d.respond(msg, from, 200, "OK", body, "Application/MANSCDP+xml")
	case manscdp.CmdControl:
		body, _ := manscdp.RenderOK(manscdp.CmdControl, query.SN, d.DeviceID)
		d.respond(msg, from, 200, "OK", body, "Application/MANSCDP+xml")
	default:
		d.respond(msg, from, 200, "OK", nil, "")
	}
	metrics.SipRequestsTotal.WithLabelValues("MESSAGE", "200").Inc()
}

// handleCatalogQuery answers a Catalog Query. The 200 OK is sent
// immediately with an empty body (GB28181 convention: the catalog
// payload itself travels as one or more follow-up MESSAGE requests so
// a single UDP datagram never overflows).
func (d *Dispatcher) handleCatalogQuery(msg *siptransport.Message, from net.Addr, query manscdp.Query) {
	d.respond(msg, from, 200, "OK", nil, "")

	channels := d.Catalog.GetCatalog()
	items := make([]manscdp.CatalogItem, 0, len(channels))
	for _, ch := range channels {
		items = append(items, channelToItem(ch))
	}
	fragments, err := manscdp.SplitCatalog(query.SN, d.DeviceID, items, d.budget())
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: render catalog fragments")
		return
	}
	d.sendFragments(from, fragments)
}

func (d *Dispatcher) handleRecordInfoQuery(msg *siptransport.Message, from net.Addr, query manscdp.Query) {
	d.respond(msg, from, 200, "OK", nil, "")

	startTime, endTime := parseRecordWindow(query)
	recs := d.Catalog.QueryRecordings(query.DeviceID, startTime, endTime)
	items := make([]manscdp.RecordItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, recordingToItem(r))
	}
	fragments, err := manscdp.SplitRecordInfo(query.SN, d.DeviceID, items, d.budget())
	if err != nil {
		log.GetLogger().WithError(err).Error("dialog: render record-info fragments")
		return
	}
	d.sendFragments(from, fragments)
}

func (d *Dispatcher) budget() int {
	if d.DatagramBudget > 0 {
		return d.DatagramBudget
	}
	return 1400
}

// sendFragments delivers each Catalog/RecordInfo fragment as its own
// MESSAGE request toward the platform.
func (d *Dispatcher) sendFragments(dest net.Addr, fragments [][]byte) {
	for _, body := range fragments {
		branch := siptransport.NewBranch()
		reqURI := fmt.Sprintf("sip:%s", d.Registrar.cfg.Server)
		data := siptransport.NewRequestBuilder("MESSAGE", reqURI).
			AddHeader("Via", siptransport.BuildVia(d.Transport, d.LocalIP, d.LocalPort, branch)).
			AddHeader("From", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, "")).
			AddHeader("To", siptransport.BuildFromTo("", d.DeviceID, d.Registrar.cfg.Server, 5060, "")).
			AddHeader("Call-ID", siptransport.NewCallID(d.LocalIP)).
			AddHeader("CSeq", "1 MESSAGE").
			AddHeader("Content-Type", "Application/MANSCDP+xml").
			SetBody(body).
			Build()
		if err := d.Tr.SendRequest(dest, branch, "MESSAGE", data); err != nil {
			log.GetLogger().WithError(err).Error("dialog: send fragment failed")
		}
	}
}

// Shutdown ends every open media dialog with an outbound BYE, per
// spec §4.6's graceful-shutdown sequence. Called once, from the
// device's own shutdown path, never concurrently with new INVITE
// handling.
func (d *Dispatcher) Shutdown() {
	for _, dlg := range d.Dialogs.All() {
		if dlg.MediaSessionID == "" {
			continue
		}
		d.sendBye(dlg)
	}
}

func (d *Dispatcher) handleBye(msg *siptransport.Message, from net.Addr) {
	dlg, ok := d.Dialogs.Get(msg.CallID)
	if ok && dlg.MediaSessionID != "" {
		d.Sessions.StopByChannel(dlg.MediaSessionID)
		d.Dialogs.Delete(msg.CallID)
	}
	d.respond(msg, from, 200, "OK", nil, "")
	metrics.SipRequestsTotal.WithLabelValues("BYE", "200").Inc()
}

// respond builds and sends a final response echoing the request's
// Via/From/To/Call-ID/CSeq, assigning this device's tag on To if one
// isn't present yet (UAS behavior on the first response in a dialog).
func (d *Dispatcher) respond(req *siptransport.Message, dest net.Addr, status int, reason string, body []byte, contentType string) {
	to := req.To
	if siptransport.ExtractTag(to) == "" {
		to = to + ";tag=" + siptransport.NewTag()
	}
	b := siptransport.NewResponseBuilder(status, reason).
		AddHeader("Via", req.TopVia).
		AddHeader("From", req.From).
		AddHeader("To", to).
		AddHeader("Call-ID", req.CallID).
		AddHeader("CSeq", req.CSeq)
	if contentType != "" {
		b.AddHeader("Content-Type", contentType)
	}
	if body != nil {
		b.SetBody(body)
	}
	if err := d.Tr.Send(dest, b.Build()); err != nil {
		log.GetLogger().WithError(err).Error("dialog: send response failed")
	}
}

func channelToItem(ch catalog.Channel) manscdp.CatalogItem {
	parental := 0
	if ch.Parental {
		parental = 1
	}
	status := "ON"
	if ch.Status == catalog.StatusOff {
		status = "OFF"
	}
	return manscdp.CatalogItem{
		DeviceID:     ch.ChannelID,
		Name:         ch.Name,
		Manufacturer: ch.Manufacturer,
		Model:        ch.Model,
		Owner:        ch.Owner,
		CivilCode:    ch.CivilCode,
		Block:        ch.Block,
		Address:      ch.Address,
		Parental:     parental,
		ParentID:     ch.ParentID,
		SafetyWay:    ch.SafetyWay,
		RegisterWay:  ch.RegisterWay,
		Secrecy:      ch.Secrecy,
		Status:       status,
	}
}

// parseRecordWindow converts a RecordInfo Query's StartTime/EndTime
// fields (GB28181 compact UTC form, absent means open-ended) into the
// nil-able bounds catalog.Store.QueryRecordings expects.
func parseRecordWindow(query manscdp.Query) (start, end *time.Time) {
	if query.StartTime != "" {
		if t, err := catalog.ParseGB28181Time(query.StartTime); err == nil {
			start = &t
		}
	}
	if query.EndTime != "" {
		if t, err := catalog.ParseGB28181Time(query.EndTime); err == nil {
			end = &t
		}
	}
	return start, end
}

func recordingToItem(r catalog.Recording) manscdp.RecordItem {
	return manscdp.RecordItem{
		DeviceID:  r.ChannelID,
		Name:      r.Name,
		FilePath:  r.Path,
		StartTime: catalog.FormatGB28181Time(r.StartTime),
		EndTime:   catalog.FormatGB28181Time(r.EndTime),
		Secrecy:   0,
		Type:      string(r.Type),
		FileSize:  r.FileSize,
	}
}
