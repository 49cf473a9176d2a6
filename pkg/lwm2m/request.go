package lwm2m

import (
	"errors"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"

	"github.com/backkem/lwm2m/pkg/block"
	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/uri"
)

// operation is the handler method an inbound request maps to.
type operation int

const (
	opRead operation = iota
	opWrite
	opExecute
	opObserve
	opCancelObserve
	opSetParams
	opDiscover
)

func (o operation) String() string {
	switch o {
	case opRead:
		return "read"
	case opWrite:
		return "write"
	case opExecute:
		return "execute"
	case opObserve:
		return "observe"
	case opCancelObserve:
		return "cancel-observe"
	case opSetParams:
		return "set-params"
	case opDiscover:
		return "discover"
	default:
		return "unknown"
	}
}

// Observe option values of a GET.
const (
	observeRegister   = 0
	observeDeregister = 1
)

// pendingRequest is an inbound request awaiting its response.
type pendingRequest struct {
	mid      uint16
	typ      coap.Type
	token    []byte
	uri      uri.URI
	op       operation
	server   *server
	blockKey string
	block1   *coap.Block
}

// handleDatagram decodes one inbound datagram from srv and routes it.
// Malformed datagrams are logged and dropped.
func (s *Session) handleDatagram(srv *server, data []byte, now time.Time) {
	msg, err := coap.Unmarshal(data)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("dropping datagram from %s: %v", srv, err)
		}
		s.config.Metrics.MessageReceived("malformed")
		return
	}
	s.config.Metrics.MessageReceived(msg.Type.String())

	if !msg.IsRequest() {
		if s.txMgr.HandleResponse(msg) {
			return
		}
		switch msg.Type {
		case coap.Confirmable:
			s.send(srv, coap.NewReset(msg.MessageID))
		case coap.Reset:
			s.cancelObservationByMID(msg.MessageID)
		}
		return
	}

	s.handleRequest(srv, msg, now)
}

// handleRequest answers duplicates from the response cache, reassembles
// Block1 bodies and hands the request to the object's handler.
func (s *Session) handleRequest(srv *server, msg *coap.Message, now time.Time) {
	if msg.Type == coap.Confirmable {
		if cached, ok := s.dedup.get(msg.MessageID); ok {
			if err := srv.Send(cached); err != nil && s.log != nil {
				s.log.Warnf("resend response %d: %v", msg.MessageID, err)
			}
			return
		}
		if s.requestPending(msg.MessageID) {
			return
		}
	}

	target, err := uri.Decode(msg.URIPath, s.config.AltPath)
	if err != nil {
		if s.log != nil {
			s.log.Debugf("request %d: bad path %q: %v", msg.MessageID, msg.URIPath, err)
		}
		s.reply(srv, msg, codes.BadRequest)
		return
	}

	if srv.bootstrap && s.handleBootstrapRequest(srv, msg, target, now) {
		return
	}
	if !target.HasObject() {
		s.reply(srv, msg, codes.NotFound)
		return
	}

	pr := &pendingRequest{
		mid:    msg.MessageID,
		typ:    msg.Type,
		token:  append([]byte(nil), msg.Token...),
		uri:    target,
		server: srv,
	}

	payload := msg.Payload
	if msg.Block1 != nil && (msg.Code == codes.PUT || msg.Code == codes.POST) {
		body, done := s.acceptBlock(srv, msg, target)
		if !done {
			return
		}
		payload = body
		pr.blockKey = target.String()
		pr.block1 = &coap.Block{Num: msg.Block1.Num, Size: msg.Block1.Size}
	}

	obj := s.registry.get(target.ObjectID)
	if obj == nil {
		s.releaseBlock(pr)
		s.reply(srv, msg, codes.NotFound)
		return
	}

	req := &Request{
		MessageID:  msg.MessageID,
		URI:        target,
		Payload:    payload,
		Format:     msg.ContentFormat,
		Attributes: parseAttributes(msg.URIQuery),
	}

	switch msg.Code {
	case codes.GET:
		switch {
		case msg.Accept != nil && *msg.Accept == coap.AppLinkFormat:
			pr.op = opDiscover
		case msg.Observe != nil && *msg.Observe == observeRegister:
			pr.op = opObserve
		case msg.Observe != nil && *msg.Observe == observeDeregister:
			pr.op = opCancelObserve
			req.Cancel = true
			s.cancelObservationByToken(msg.Token)
		default:
			pr.op = opRead
		}
	case codes.PUT:
		if len(payload) == 0 && msg.ContentFormat == nil && len(req.Attributes) > 0 {
			pr.op = opSetParams
		} else {
			pr.op = opWrite
		}
	case codes.POST:
		if target.HasResource() {
			pr.op = opExecute
		} else {
			pr.op = opWrite
		}
	default:
		s.releaseBlock(pr)
		s.reply(srv, msg, codes.MethodNotAllowed)
		return
	}

	if s.log != nil {
		s.log.Debugf("request %d: %s %s", msg.MessageID, pr.op, target)
	}

	s.reqMu.Lock()
	s.requests[pr.mid] = pr
	s.reqMu.Unlock()

	h := obj.Handler()
	s.dispatch.post(func() { s.invoke(h, pr, req) })
}

// invoke runs the handler on the dispatch worker and queues its answer
// unless the handler deferred it.
func (s *Session) invoke(h Handler, pr *pendingRequest, req *Request) {
	var (
		result Result
		value  Value
	)
	switch pr.op {
	case opRead:
		result, value = h.Read(req)
	case opObserve, opCancelObserve:
		result, value = h.Observe(req)
	case opWrite:
		result = h.Write(req)
	case opExecute:
		result = h.Execute(req)
	case opSetParams:
		result = h.SetParams(req)
	case opDiscover:
		var ids []uri.ID
		result, ids = h.Discover(req)
		if result != ResultDeferred {
			s.enqueueResponse(pr, &queueItem{kind: itemDiscover, result: result, ids: ids})
		}
		return
	}
	if result == ResultDeferred {
		return
	}
	s.enqueueResponse(pr, &queueItem{kind: itemResponse, uri: req.URI, value: value, result: result})
}

// acceptBlock feeds one Block1 fragment to the reassembler. It answers
// intermediate and failed blocks itself and returns the body once the last
// block arrived.
func (s *Session) acceptBlock(srv *server, msg *coap.Message, target uri.URI) ([]byte, bool) {
	b := msg.Block1
	key := target.String()
	res, err := s.blocks.Accept(key, msg.MessageID, msg.Payload, b.Size, b.Num, b.More)
	if err != nil {
		code := codes.RequestEntityIncomplete
		outcome := "incomplete"
		if errors.Is(err, block.ErrEntityTooLarge) {
			code = codes.RequestEntityTooLarge
			outcome = "too_large"
		}
		if s.log != nil {
			s.log.Debugf("block1 %s #%d: %v", key, b.Num, err)
		}
		s.config.Metrics.BlockOutcome(outcome)
		s.reply(srv, msg, code)
		return nil, false
	}

	if res.Status == block.StatusContinue {
		s.config.Metrics.BlockOutcome("continue")
		resp := s.newResponse(msg, codes.Continue)
		resp.Block1 = &coap.Block{Num: b.Num, More: true, Size: b.Size}
		s.sendResponse(srv, msg, resp)
		return nil, false
	}

	s.config.Metrics.BlockOutcome("complete")
	return res.Body, true
}

func (s *Session) releaseBlock(pr *pendingRequest) {
	if pr.blockKey != "" {
		s.blocks.Release(pr.blockKey)
	}
}

func (s *Session) requestPending(mid uint16) bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	_, ok := s.requests[mid]
	return ok
}

// newResponse builds the response to req: piggybacked on the ACK for a
// confirmable request, a new non-confirmable message otherwise.
func (s *Session) newResponse(req *coap.Message, code codes.Code) *coap.Message {
	if req.Type == coap.Confirmable {
		return coap.NewPiggybacked(req, code)
	}
	return &coap.Message{
		Type:      coap.NonConfirmable,
		Code:      code,
		MessageID: s.nextMessageID(),
		Token:     append([]byte(nil), req.Token...),
	}
}

// reply answers req with an empty response carrying code.
func (s *Session) reply(srv *server, req *coap.Message, code codes.Code) {
	s.sendResponse(srv, req, s.newResponse(req, code))
}

// sendResponse encodes and sends resp, caching it for retransmissions of a
// confirmable req.
func (s *Session) sendResponse(srv *server, req *coap.Message, resp *coap.Message) {
	data, ok := s.send(srv, resp)
	if ok && req.Type == coap.Confirmable {
		s.dedup.put(req.MessageID, data)
	}
}

// send encodes msg and writes it to srv.
func (s *Session) send(srv *server, msg *coap.Message) ([]byte, bool) {
	data, err := msg.Marshal()
	if err != nil {
		if s.log != nil {
			s.log.Errorf("encode message %d: %v", msg.MessageID, err)
		}
		return nil, false
	}
	if err := srv.Send(data); err != nil {
		if s.log != nil {
			s.log.Warnf("send message %d to %s: %v", msg.MessageID, srv, err)
		}
		return data, false
	}
	return data, true
}

// parseAttributes turns Uri-Query values "k=v" into a map. Keys without a
// value map to "".
func parseAttributes(query []string) map[string]string {
	if len(query) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(query))
	for _, q := range query {
		k, v, _ := strings.Cut(q, "=")
		if k == "" {
			continue
		}
		attrs[k] = v
	}
	return attrs
}

const defaultResponseCacheSize = 32

// responseCache keeps the encoded responses to recent confirmable requests
// so a retransmitted request is answered without running the handler again.
type responseCache struct {
	size    int
	order   []uint16
	entries map[uint16][]byte
}

func newResponseCache(size int) *responseCache {
	return &responseCache{
		size:    size,
		entries: make(map[uint16][]byte, size),
	}
}

func (c *responseCache) get(mid uint16) ([]byte, bool) {
	data, ok := c.entries[mid]
	return data, ok
}

func (c *responseCache) put(mid uint16, data []byte) {
	if _, ok := c.entries[mid]; !ok {
		c.order = append(c.order, mid)
	}
	c.entries[mid] = data
	for len(c.order) > c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *responseCache) clear() {
	c.order = nil
	clear(c.entries)
}
