package lwm2m

import (
	"slices"
	"strings"
	"sync"

	"github.com/backkem/lwm2m/pkg/coap"
	"github.com/backkem/lwm2m/pkg/uri"
)

// Request is an inbound operation on an application resource.
type Request struct {
	// MessageID identifies the request in a later Session.Response call.
	MessageID uint16

	// URI is the addressed object, instance or resource.
	URI uri.URI

	// Payload is the request body, reassembled when it arrived in blocks.
	Payload []byte

	// Format is the Content-Format of Payload, if present.
	Format *coap.MediaType

	// Attributes holds the Uri-Query parameters (pmin, pmax, ...).
	Attributes map[string]string

	// Cancel is set on an Observe request that cancels an observation.
	Cancel bool
}

// Handler serves the resources of one object.
//
// Every method may return ResultDeferred and answer later through
// Session.Response (or Session.DiscoverResponse for Discover). Methods run
// on the session's dispatch worker, one at a time.
type Handler interface {
	Read(req *Request) (Result, Value)
	Write(req *Request) Result
	Execute(req *Request) Result
	Observe(req *Request) (Result, Value)
	SetParams(req *Request) Result
	Discover(req *Request) (Result, []uri.ID)
}

// UnsupportedHandler answers every operation with ResultMethodNotAllowed.
// Embed it to implement only some operations.
type UnsupportedHandler struct{}

func (UnsupportedHandler) Read(*Request) (Result, Value)    { return ResultMethodNotAllowed, Value{} }
func (UnsupportedHandler) Write(*Request) Result            { return ResultMethodNotAllowed }
func (UnsupportedHandler) Execute(*Request) Result          { return ResultMethodNotAllowed }
func (UnsupportedHandler) Observe(*Request) (Result, Value) { return ResultMethodNotAllowed, Value{} }
func (UnsupportedHandler) SetParams(*Request) Result        { return ResultMethodNotAllowed }
func (UnsupportedHandler) Discover(*Request) (Result, []uri.ID) {
	return ResultMethodNotAllowed, nil
}

// Object describes one LWM2M object exposed by the client.
//
// Example:
//
//	obj := lwm2m.NewObject(3311, light).WithInstances(0, 1)
//	session.AddObject(obj)
type Object struct {
	id        uri.ID
	instances []uri.ID
	handler   Handler
}

// NewObject creates an object served by handler.
func NewObject(id uri.ID, handler Handler) *Object {
	return &Object{id: id, handler: handler}
}

// WithInstances adds instance ids announced at registration.
func (o *Object) WithInstances(ids ...uri.ID) *Object {
	for _, id := range ids {
		if !slices.Contains(o.instances, id) {
			o.instances = append(o.instances, id)
		}
	}
	slices.Sort(o.instances)
	return o
}

// ID returns the object id.
func (o *Object) ID() uri.ID {
	return o.id
}

// Instances returns the announced instance ids in ascending order.
func (o *Object) Instances() []uri.ID {
	return o.instances
}

// Handler returns the object's handler.
func (o *Object) Handler() Handler {
	return o.handler
}

// registry holds the objects of a session. It is read by the step worker and
// written by AddObject/RemoveObject from any goroutine.
type registry struct {
	mu      sync.RWMutex
	objects map[uri.ID]*Object
}

func newRegistry() *registry {
	return &registry{objects: make(map[uri.ID]*Object)}
}

func (r *registry) add(o *Object) error {
	if o == nil || o.handler == nil {
		return ErrMissingHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[o.id]; ok {
		return ErrObjectExists
	}
	r.objects[o.id] = o
	return nil
}

func (r *registry) remove(id uri.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return ErrObjectNotFound
	}
	delete(r.objects, id)
	return nil
}

func (r *registry) get(id uri.ID) *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[id]
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// linkFormat renders the registration payload in CoRE link format,
// e.g. "</3/0>,</3311/0>,</3311/1>". Objects without instances are listed
// by object path.
func (r *registry) linkFormat() string {
	r.mu.RLock()
	ids := make([]uri.ID, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)

	var links []string
	for _, id := range ids {
		o := r.get(id)
		if o == nil {
			continue
		}
		if len(o.instances) == 0 {
			links = append(links, "<"+uri.Object(id).String()+">")
			continue
		}
		for _, iid := range o.instances {
			links = append(links, "<"+uri.Instance(id, iid).String()+">")
		}
	}
	return strings.Join(links, ",")
}

// discoverLinks renders a discover answer listing resource ids under
// target. An object-level target lists the resources of instance 0.
func discoverLinks(target uri.URI, ids []uri.ID) string {
	iid := target.InstanceID
	if !target.HasInstance() {
		iid = 0
	}
	links := make([]string, 0, len(ids))
	for _, rid := range ids {
		links = append(links, "<"+uri.Resource(target.ObjectID, iid, rid).String()+">")
	}
	return strings.Join(links, ",")
}
