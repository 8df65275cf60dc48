package crud

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrorHandler writes the response for errors outside the crud taxonomy.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a Router.
type Option func(*options)

type options struct {
	prefix       string
	tags         []string
	maxPageSize  int
	createSchema any
	updateSchema any
	routes       map[Operation]RouteConfig
	logger       *zap.Logger
	validate     *validator.Validate
	notifier     Notifier
	errorHandler ErrorHandler
	metrics      bool
}

func defaultOptions() options {
	return options{
		routes:  make(map[Operation]RouteConfig),
		logger:  zap.NewNop(),
		metrics: true,
	}
}

// WithPrefix sets the path prefix of the routes. It defaults to "/" + the schema name.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithTags sets the documentation tags reported by Routes. They default to the capitalized prefix.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = tags }
}

// WithPagination caps the page size of the list route. 0 (the default) means unbounded.
func WithPagination(maxPageSize int) Option {
	return func(o *options) { o.maxPageSize = maxPageSize }
}

// WithCreateSchema sets the payload type of the create route; v is a zero value or pointer of a
// struct whose JSON fields are a subset of the entity's. It defaults to the entity type.
func WithCreateSchema(v any) Option {
	return func(o *options) { o.createSchema = v }
}

// WithUpdateSchema sets the payload type of the update route, like WithCreateSchema.
func WithUpdateSchema(v any) Option {
	return func(o *options) { o.updateSchema = v }
}

func withRoute(op Operation, cfg RouteConfig) Option {
	return func(o *options) { o.routes[op] = cfg }
}

// WithGetAllRoute configures GET {prefix}.
func WithGetAllRoute(cfg RouteConfig) Option { return withRoute(OpList, cfg) }

// WithGetOneRoute configures GET {prefix}/{id}.
func WithGetOneRoute(cfg RouteConfig) Option { return withRoute(OpGet, cfg) }

// WithCreateRoute configures POST {prefix}.
func WithCreateRoute(cfg RouteConfig) Option { return withRoute(OpCreate, cfg) }

// WithUpdateRoute configures PUT {prefix}/{id}.
func WithUpdateRoute(cfg RouteConfig) Option { return withRoute(OpUpdate, cfg) }

// WithDeleteOneRoute configures DELETE {prefix}/{id}.
func WithDeleteOneRoute(cfg RouteConfig) Option { return withRoute(OpDeleteOne, cfg) }

// WithDeleteAllRoute configures DELETE {prefix}.
func WithDeleteAllRoute(cfg RouteConfig) Option { return withRoute(OpDeleteAll, cfg) }

// WithLogger sets the logger used for route registration and unexpected backend errors.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithValidator replaces the payload validator, e.g. one with custom tags registered.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// WithNotifier publishes an Event to n after each successful create, update or delete.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithErrorHandler replaces the handler for unknown errors. The default logs the error and
// responds 500 with a generic message.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.errorHandler = h }
}

// WithMetrics toggles the Prometheus instrumentation of the routes. It is on by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}
