package lwm2m

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/transaction"
	"github.com/backkem/lwm2m/pkg/uri"
)

type itemKind int

const (
	itemResponse itemKind = iota
	itemDiscover
	itemNotify
)

// queueItem is a response or notification waiting for the step worker.
type queueItem struct {
	id      uint32
	kind    itemKind
	req     *pendingRequest
	uri     uri.URI
	value   Value
	ids     []uri.ID
	result  Result
	observe uint16
	needAck bool
}

// partialKey identifies the answer that continue items accumulate into.
type partialKey struct {
	notify bool
	id     uint16
}

// partial accumulates continue items.
type partial struct {
	payload bytes.Buffer
	format  coap.MediaType
	hasFmt  bool
	ids     []uri.ID
}

func (p *partial) add(it *queueItem) {
	switch it.kind {
	case itemDiscover:
		p.ids = append(p.ids, it.ids...)
	default:
		p.payload.Write(it.value.Payload)
		if len(it.value.Payload) > 0 || it.value.Format != 0 {
			p.format = it.value.Format
			p.hasFmt = true
		}
	}
}

// observation is an accepted observe request.
type observation struct {
	id      uint16
	token   []byte
	uri     uri.URI
	counter uint32
	lastMID uint16
}

// Response answers the request identified by mid. ResultContinue queues a
// partial answer; the parts are concatenated into the final response.
// target must lie within the requested URI.
func (s *Session) Response(mid uint16, target uri.URI, value Value, result Result) error {
	if !result.validResponse() {
		return ErrInvalidResult
	}
	if s.isClosed() {
		return ErrClosed
	}

	s.reqMu.Lock()
	pr, ok := s.requests[mid]
	s.reqMu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}
	if !pr.server.bootstrap && s.State() != StateReady {
		return ErrInvalidState
	}
	if !target.IsEmpty() && !pr.uri.Match(target) {
		return fmt.Errorf("%w: %s is outside %s", ErrUnknownRequest, target, pr.uri)
	}
	if pr.op == opDiscover {
		return s.enqueueResponse(pr, &queueItem{kind: itemDiscover, result: result})
	}
	return s.enqueueResponse(pr, &queueItem{kind: itemResponse, uri: target, value: value, result: result})
}

// DiscoverResponse answers a discover request with a semicolon separated
// list of resource ids such as "1;2;5".
func (s *Session) DiscoverResponse(mid uint16, result Result, resources string) error {
	if !result.validResponse() {
		return ErrInvalidResult
	}
	ids, err := uri.ParseResourceList(resources)
	if err != nil {
		return err
	}
	if s.isClosed() {
		return ErrClosed
	}

	s.reqMu.Lock()
	pr, ok := s.requests[mid]
	s.reqMu.Unlock()
	if !ok || pr.op != opDiscover {
		return ErrUnknownRequest
	}
	if !pr.server.bootstrap && s.State() != StateReady {
		return ErrInvalidState
	}
	return s.enqueueResponse(pr, &queueItem{kind: itemDiscover, ids: ids, result: result})
}

// Notify reports a new value of an observed resource. observeID is the
// message id of the observe request. With needAck the notification is
// confirmable and EventNotifyFailed reports a missing acknowledgement.
func (s *Session) Notify(target uri.URI, value Value, observeID uint16, result Result, needAck bool) error {
	if !result.validNotify() {
		return ErrInvalidResult
	}
	if s.isClosed() {
		return ErrClosed
	}
	if s.State() != StateReady {
		return ErrInvalidState
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if _, ok := s.observations[observeID]; !ok {
		return ErrUnknownObservation
	}
	s.nextNotifyID++
	s.queue = append(s.queue, &queueItem{
		id:      s.nextNotifyID,
		kind:    itemNotify,
		uri:     target,
		value:   value,
		result:  result,
		observe: observeID,
		needAck: needAck,
	})
	s.Wake()
	return nil
}

// enqueueResponse queues an answer to pr. A final answer removes pr from
// the pending requests.
func (s *Session) enqueueResponse(pr *pendingRequest, it *queueItem) error {
	it.req = pr
	if it.result != ResultContinue {
		s.reqMu.Lock()
		delete(s.requests, pr.mid)
		s.reqMu.Unlock()
	}

	s.notifyMu.Lock()
	s.nextNotifyID++
	it.id = s.nextNotifyID
	s.queue = append(s.queue, it)
	s.notifyMu.Unlock()

	s.Wake()
	return nil
}

func (s *Session) queueLen() int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return len(s.queue)
}

// drainQueue sends every queued response and notification in queue order.
func (s *Session) drainQueue() {
	s.notifyMu.Lock()
	items := s.queue
	s.queue = nil
	s.notifyMu.Unlock()

	for _, it := range items {
		key := partialKey{id: it.observe, notify: it.kind == itemNotify}
		if it.kind != itemNotify {
			key.id = it.req.mid
		}

		p := s.partials[key]
		if it.result == ResultContinue {
			if p == nil {
				p = &partial{}
				s.partials[key] = p
			}
			p.add(it)
			continue
		}
		delete(s.partials, key)

		if it.kind == itemNotify {
			s.sendNotify(it, p)
		} else {
			s.sendQueuedResponse(it, p)
		}
	}
}

// sendQueuedResponse builds and sends the final answer of a request.
func (s *Session) sendQueuedResponse(it *queueItem, p *partial) {
	pr := it.req
	srv := pr.server
	if srv != s.server && srv != s.bsServer {
		s.emit(EventResponseFailed, pr.mid)
		return
	}

	req := &coap.Message{Type: pr.typ, MessageID: pr.mid, Token: pr.token}
	resp := s.newResponse(req, it.result.Code())

	if p == nil {
		p = &partial{}
	}
	p.add(it)

	switch {
	case it.kind == itemDiscover:
		if it.result == ResultContent {
			resp.Payload = []byte(discoverLinks(pr.uri, p.ids))
			resp.SetContentFormat(coap.AppLinkFormat)
		}
	case p.payload.Len() > 0:
		resp.Payload = p.payload.Bytes()
		if p.hasFmt {
			resp.SetContentFormat(p.format)
		}
	}

	if pr.op == opObserve && it.result == ResultContent {
		obs := &observation{
			id:    pr.mid,
			token: pr.token,
			uri:   pr.uri,
		}
		s.notifyMu.Lock()
		s.observations[obs.id] = obs
		s.notifyMu.Unlock()
		resp.SetObserve(obs.counter)
		if s.log != nil {
			s.log.Debugf("observing %s (id %d)", pr.uri, obs.id)
		}
	}
	if pr.block1 != nil {
		resp.Block1 = &coap.Block{Num: pr.block1.Num, Size: pr.block1.Size}
	}

	data, ok := s.send(srv, resp)
	if !ok {
		s.emit(EventResponseFailed, pr.mid)
	} else if pr.typ == coap.Confirmable {
		s.dedup.put(pr.mid, data)
	}
	s.releaseBlock(pr)
}

// sendNotify sends one notification for an observation.
func (s *Session) sendNotify(it *queueItem, p *partial) {
	s.notifyMu.Lock()
	obs := s.observations[it.observe]
	s.notifyMu.Unlock()
	if obs == nil {
		return
	}
	srv := s.server
	if srv == nil {
		s.emit(EventNotifyFailed, obs.id)
		return
	}

	if p == nil {
		p = &partial{}
	}
	p.add(it)

	typ := coap.NonConfirmable
	if it.needAck {
		typ = coap.Confirmable
	}
	obs.counter++
	msg := &coap.Message{
		Type:      typ,
		Code:      it.result.Code(),
		MessageID: s.nextMessageID(),
		Token:     obs.token,
		Payload:   p.payload.Bytes(),
	}
	msg.SetObserve(obs.counter)
	if p.hasFmt {
		msg.SetContentFormat(p.format)
	}
	obs.lastMID = msg.MessageID

	if !it.needAck {
		if _, ok := s.send(srv, msg); !ok {
			s.emit(EventNotifyFailed, obs.id)
		}
		return
	}

	t, err := s.txMgr.NewFromMessage(msg)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("notify %d: %v", obs.id, err)
		}
		s.emit(EventNotifyFailed, obs.id)
		return
	}
	t.Peer = srv
	t.Callback = func(t *transaction.Transaction, resp *coap.Message) {
		if resp == nil || t.WasReset() {
			s.emit(EventNotifyFailed, obs.id)
		}
		if t.WasReset() {
			s.removeObservation(obs.id)
		}
	}
	s.txMgr.Send(t)
}

func (s *Session) removeObservation(id uint16) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	delete(s.observations, id)
}

// cancelObservationByMID drops the observation whose last notification
// was answered with RST.
func (s *Session) cancelObservationByMID(mid uint16) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for id, obs := range s.observations {
		if obs.counter > 0 && obs.lastMID == mid {
			delete(s.observations, id)
			if s.log != nil {
				s.log.Debugf("observation %d reset by peer", id)
			}
			return
		}
	}
}

// cancelObservationByToken drops the observation created with token.
func (s *Session) cancelObservationByToken(token []byte) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for id, obs := range s.observations {
		if bytes.Equal(obs.token, token) {
			delete(s.observations, id)
			return
		}
	}
}

// Observations returns the ids of the active observations.
func (s *Session) Observations() []uint16 {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	ids := make([]uint16, 0, len(s.observations))
	for id := range s.observations {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
