package crud

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/edgeflare/crudrouter/pkg/httputil"
	"github.com/edgeflare/crudrouter/pkg/httputil/middleware"
	"github.com/edgeflare/crudrouter/pkg/metrics"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Router generates the CRUD routes of one resource over a Backend.
type Router[T any] struct {
	backend  Backend[T]
	schema   *Schema[T]
	prefix   string
	tags     []string
	maxPage  int
	create   payloadType
	update   payloadType
	routes   map[Operation]RouteConfig
	logger   *zap.Logger
	validate *validator.Validate
	notifier Notifier
	onError  ErrorHandler
	metrics  bool

	mu         sync.Mutex
	registered []RouteInfo
}

// NewRouter builds the router of backend's resource. Payload schemas are checked here, so a
// misconfigured resource fails at startup rather than on its first request.
func NewRouter[T any](backend Backend[T], opts ...Option) (*Router[T], error) {
	if backend == nil {
		return nil, errors.New("crud: nil backend")
	}
	schema := backend.Schema()
	if schema == nil {
		return nil, errors.New("crud: backend has no schema")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	create, err := newPayloadType(o.createSchema, schema.Type)
	if err != nil {
		return nil, err
	}
	update, err := newPayloadType(o.updateSchema, schema.Type)
	if err != nil {
		return nil, err
	}
	if o.maxPageSize < 0 {
		return nil, &SchemaError{Schema: schema.Name, Reason: "negative page size"}
	}

	r := &Router[T]{
		backend:  backend,
		schema:   schema,
		prefix:   normalizePrefix(cmp.Or(o.prefix, schema.Name)),
		tags:     o.tags,
		maxPage:  o.maxPageSize,
		create:   create,
		update:   update,
		routes:   o.routes,
		logger:   o.logger.With(zap.String("resource", schema.Name)),
		validate: o.validate,
		notifier: o.notifier,
		onError:  o.errorHandler,
		metrics:  o.metrics,
	}
	if r.tags == nil {
		r.tags = []string{capitalize(strings.Trim(r.prefix, "/"))}
	}
	if r.validate == nil {
		r.validate = newValidator()
	}
	if r.onError == nil {
		r.onError = r.internalError
	}
	return r, nil
}

func normalizePrefix(p string) string {
	return "/" + strings.Trim(p, "/")
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Prefix returns the path prefix of the generated routes.
func (r *Router[T]) Prefix() string { return r.prefix }

// Register mounts the enabled routes on host. It can be called once.
func (r *Router[T]) Register(host Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered != nil {
		return ErrAlreadyRegistered
	}

	name := r.schema.Type.Name()
	item := r.prefix + "/{id}"
	specs := []struct {
		op       Operation
		method   string
		path     string
		response string
		handler  http.HandlerFunc
	}{
		{OpList, http.MethodGet, r.prefix, "[]" + name, r.getAll},
		{OpCreate, http.MethodPost, r.prefix, name, r.createOne},
		{OpDeleteAll, http.MethodDelete, r.prefix, "[]" + name, r.deleteAll},
		{OpGet, http.MethodGet, item, name, r.getOne},
		{OpUpdate, http.MethodPut, item, name, r.updateOne},
		{OpDeleteOne, http.MethodDelete, item, name, r.deleteOne},
	}

	registered := make([]RouteInfo, 0, len(specs))
	for _, spec := range specs {
		cfg := r.routes[spec.op]
		if !cfg.IsEnabled() {
			continue
		}

		h := middleware.Chain(spec.handler, cfg.dependencies...)
		if r.metrics {
			h = metrics.Instrument(r.schema.Name, string(spec.op))(h)
		}
		host.Handle(spec.method+" "+spec.path, h)

		registered = append(registered, RouteInfo{
			Method:       spec.method,
			Path:         spec.path,
			Operation:    spec.op,
			ResponseType: spec.response,
			Tags:         r.tags,
			Protected:    len(cfg.dependencies) > 0,
		})
		r.logger.Debug("registered route", zap.String("method", spec.method), zap.String("path", spec.path))
	}
	r.registered = registered
	return nil
}

// Routes returns the routes mounted by Register, in registration order.
func (r *Router[T]) Routes() []RouteInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RouteInfo, len(r.registered))
	copy(out, r.registered)
	return out
}

func (r *Router[T]) getAll(w http.ResponseWriter, req *http.Request) {
	page, err := ParsePage(req.URL.Query(), r.maxPage)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	items, err := r.backend.List(req.Context(), page)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	httputil.JSON(w, http.StatusOK, nonNil(items))
}

func (r *Router[T]) getOne(w http.ResponseWriter, req *http.Request) {
	id, ok := r.bindID(w, req)
	if !ok {
		return
	}
	item, err := r.backend.Get(req.Context(), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	httputil.JSON(w, http.StatusOK, item)
}

func (r *Router[T]) createOne(w http.ResponseWriter, req *http.Request) {
	entity, err := r.decodeCreate(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	created, err := r.backend.Create(req.Context(), entity)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(req.Context(), OpCreate, r.schema.KeyOf(created), created)
	httputil.JSON(w, http.StatusCreated, created)
}

func (r *Router[T]) updateOne(w http.ResponseWriter, req *http.Request) {
	id, ok := r.bindID(w, req)
	if !ok {
		return
	}
	patch, err := r.decodeUpdate(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	updated, err := r.backend.Update(req.Context(), id, patch)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(req.Context(), OpUpdate, id, updated)
	httputil.JSON(w, http.StatusOK, updated)
}

func (r *Router[T]) deleteOne(w http.ResponseWriter, req *http.Request) {
	id, ok := r.bindID(w, req)
	if !ok {
		return
	}
	deleted, err := r.backend.DeleteOne(req.Context(), id)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(req.Context(), OpDeleteOne, id, deleted)
	httputil.JSON(w, http.StatusOK, deleted)
}

func (r *Router[T]) deleteAll(w http.ResponseWriter, req *http.Request) {
	remaining, err := r.backend.DeleteAll(req.Context())
	if err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(req.Context(), OpDeleteAll, nil, nil)
	httputil.JSON(w, http.StatusOK, nonNil(remaining))
}

func (r *Router[T]) bindID(w http.ResponseWriter, req *http.Request) (any, bool) {
	id, err := r.schema.Key.Parse(req.PathValue("id"))
	if err != nil {
		r.fail(w, req, err)
		return nil, false
	}
	return id, true
}

// decodeCreate turns a create payload into an entity. Fields outside the create schema cannot
// be set, required fields must be present and not null, and an auto-assigned key is dropped.
func (r *Router[T]) decodeCreate(req *http.Request) (T, error) {
	var entity T
	value, raw, err := r.create.decode(req.Body)
	if err != nil {
		return entity, err
	}
	for _, f := range r.create.required {
		if f.JSON == r.schema.Key.JSON {
			continue
		}
		if msg, sent := member(raw, f.JSON); !sent || isNull(msg) {
			return entity, &ValidationError{Field: f.JSON, Message: "field required"}
		}
	}
	if err := validateStruct(r.validate, value); err != nil {
		return entity, err
	}

	data, err := json.Marshal(value.Interface())
	if err != nil {
		return entity, err
	}
	if err := json.Unmarshal(data, &entity); err != nil {
		return entity, &ValidationError{Field: "body", Message: err.Error()}
	}

	switch {
	case r.schema.Key.Auto:
		r.schema.ClearKey(&entity)
	case !r.schema.HasKey(entity):
		return entity, &ValidationError{Field: r.schema.Key.JSON, Message: "field required"}
	}
	return entity, nil
}

// decodeUpdate builds a patch from the update payload: fields present and not null, known to the
// entity, and other than the key.
func (r *Router[T]) decodeUpdate(req *http.Request) (Patch, error) {
	value, raw, err := r.update.decode(req.Body)
	if err != nil {
		return nil, err
	}
	if err := validateStruct(r.validate, value); err != nil {
		return nil, err
	}

	patch := Patch{}
	elem := value.Elem()
	for _, f := range r.update.fields {
		if f.JSON == r.schema.Key.JSON {
			continue
		}
		msg, sent := member(raw, f.JSON)
		if !sent || isNull(msg) {
			continue
		}
		if _, known := r.schema.Field(f.JSON); !known {
			continue
		}
		fv := elem.FieldByIndex(f.Index)
		for fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				break
			}
			fv = fv.Elem()
		}
		if fv.Kind() == reflect.Pointer {
			continue
		}
		patch[f.JSON] = fv.Interface()
	}
	return patch, nil
}

func (r *Router[T]) publish(ctx context.Context, op Operation, key, data any) {
	if r.notifier == nil {
		return
	}
	ev := Event{
		Resource:  r.schema.Name,
		Operation: op,
		Key:       key,
		Data:      data,
		Time:      time.Now().UTC(),
	}
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.logger.Warn("notify failed", zap.String("operation", string(op)), zap.Any("key", key), zap.Error(err))
		metrics.NotifyErrors.WithLabelValues(r.schema.Name).Inc()
	}
}

func (r *Router[T]) fail(w http.ResponseWriter, req *http.Request, err error) {
	status, known := StatusCode(err)
	if !known {
		r.onError(w, req, err)
		return
	}
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", zap.String("req_id", httputil.RequestID(req)), zap.Error(err))
	}
	httputil.Error(w, status, Detail(err))
}

func (r *Router[T]) internalError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("unhandled error",
		zap.String("req_id", httputil.RequestID(req)),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Error(err),
	)
	httputil.Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
