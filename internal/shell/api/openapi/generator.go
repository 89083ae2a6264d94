// Package openapi builds the OpenAPI 3.0 document of the QuickOps API by
// reflecting on the registered JSON:API models and action payloads.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

const jsonAPIMediaType = "application/vnd.api+json"

// =============================================================================
// Generator
// =============================================================================

// Generator produces the OpenAPI document. The document is built once and
// cached until another resource or action is registered.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string

	mu        sync.RWMutex
	resources []ResourceInfo
	actions   []ActionInfo
	cached    *openapi3.T
}

// ResourceInfo describes a JSON:API resource served under /api/v1/{Name}.
type ResourceInfo struct {
	Name           string
	Model          interface{}
	SupportsFind   bool
	SupportsCreate bool
	SupportsUpdate bool
	SupportsDelete bool
}

// ActionInfo describes a plain JSON endpoint outside the JSON:API resources.
// Request may be nil for bodiless methods.
type ActionInfo struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tag         string
	PathParams  []string
	Request     interface{}
	Response    interface{}
	Failure     interface{}
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) { g.title = title }
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) { g.version = version }
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) { g.description = description }
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) { g.servers = append(g.servers, url) }
}

// NewGenerator creates a generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:   "QuickOps API",
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterResource adds a JSON:API resource.
func (g *Generator) RegisterResource(info ResourceInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resources = append(g.resources, info)
	g.cached = nil
}

// RegisterAction adds a plain JSON endpoint.
func (g *Generator) RegisterAction(info ActionInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, info)
	g.cached = nil
}

// Generate returns the OpenAPI document.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if spec := g.cached; spec != nil {
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		return g.cached
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Paths: &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{"Error": jsonAPIErrorSchema()},
		},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}
	for _, res := range g.resources {
		addResource(spec, res)
	}
	for _, action := range g.actions {
		addAction(spec, action)
	}

	g.cached = spec
	return spec
}

// Handler serves the document as JSON.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Generate()); err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Resources
// =============================================================================

func addResource(spec *openapi3.T, res ResourceInfo) {
	base := "/api/v1/" + res.Name
	name := capitalize(singularize(res.Name))

	spec.Components.Schemas[name+"Attributes"] = SchemaOf(res.Model)
	spec.Components.Schemas[name] = objectSchema(openapi3.Schemas{
		"type":       &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{res.Name}}},
		"id":         scalar("string", ""),
		"attributes": ref(name + "Attributes"),
	}, "type", "id")
	spec.Components.Schemas[name+"Document"] = objectSchema(openapi3.Schemas{"data": ref(name)})
	spec.Components.Schemas[name+"ListDocument"] = objectSchema(openapi3.Schemas{
		"data": {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref(name)}},
		"meta": objectSchema(openapi3.Schemas{
			"total":  scalar("integer", ""),
			"limit":  scalar("integer", ""),
			"offset": scalar("integer", ""),
		}),
	})

	tags := []string{capitalize(res.Name)}
	collection := &openapi3.PathItem{}
	item := &openapi3.PathItem{Parameters: openapi3.Parameters{pathParam("id")}}

	if res.SupportsFind {
		collection.Get = &openapi3.Operation{
			OperationID: "list" + capitalize(res.Name),
			Summary:     "List " + res.Name,
			Tags:        tags,
			Parameters: openapi3.Parameters{
				queryParam("page[size]", "integer"),
				queryParam("page[number]", "integer"),
				queryParam("filter[status]", "string"),
			},
			Responses: responses(map[int]*openapi3.SchemaRef{http.StatusOK: ref(name + "ListDocument")}, jsonAPIMediaType),
		}
		item.Get = &openapi3.Operation{
			OperationID: "get" + name,
			Summary:     "Get a " + singularize(res.Name),
			Tags:        tags,
			Responses: responses(map[int]*openapi3.SchemaRef{
				http.StatusOK:       ref(name + "Document"),
				http.StatusNotFound: ref("Error"),
			}, jsonAPIMediaType),
		}
	}
	if res.SupportsCreate {
		collection.Post = &openapi3.Operation{
			OperationID: "create" + name,
			Summary:     "Create a " + singularize(res.Name),
			Tags:        tags,
			RequestBody: requestBody(ref(name+"Document"), jsonAPIMediaType),
			Responses: responses(map[int]*openapi3.SchemaRef{
				http.StatusCreated:    ref(name + "Document"),
				http.StatusBadRequest: ref("Error"),
				http.StatusConflict:   ref("Error"),
			}, jsonAPIMediaType),
		}
	}
	if res.SupportsUpdate {
		item.Patch = &openapi3.Operation{
			OperationID: "update" + name,
			Summary:     "Update a " + singularize(res.Name),
			Tags:        tags,
			RequestBody: requestBody(ref(name+"Document"), jsonAPIMediaType),
			Responses: responses(map[int]*openapi3.SchemaRef{
				http.StatusOK:       ref(name + "Document"),
				http.StatusNotFound: ref("Error"),
				http.StatusConflict: ref("Error"),
			}, jsonAPIMediaType),
		}
	}
	if res.SupportsDelete {
		item.Delete = &openapi3.Operation{
			OperationID: "delete" + name,
			Summary:     "Delete a " + singularize(res.Name),
			Tags:        tags,
			Responses: responses(map[int]*openapi3.SchemaRef{
				http.StatusNoContent: nil,
				http.StatusNotFound:  ref("Error"),
				http.StatusConflict:  ref("Error"),
			}, jsonAPIMediaType),
		}
	}

	spec.Paths.Set(base, collection)
	spec.Paths.Set(base+"/{id}", item)
}

// =============================================================================
// Actions
// =============================================================================

func addAction(spec *openapi3.T, action ActionInfo) {
	op := &openapi3.Operation{
		OperationID: action.OperationID,
		Summary:     action.Summary,
	}
	if action.Tag != "" {
		op.Tags = []string{action.Tag}
	}
	for _, p := range action.PathParams {
		op.Parameters = append(op.Parameters, pathParam(p))
	}
	if action.Request != nil {
		op.RequestBody = requestBody(SchemaOf(action.Request), "application/json")
	}

	codes := map[int]*openapi3.SchemaRef{http.StatusOK: SchemaOf(action.Response)}
	if action.Failure != nil {
		failure := SchemaOf(action.Failure)
		codes[http.StatusBadRequest] = failure
		codes[http.StatusNotFound] = failure
		codes[http.StatusInternalServerError] = failure
	}
	op.Responses = responses(codes, "application/json")

	item := spec.Paths.Value(action.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		spec.Paths.Set(action.Path, item)
	}
	item.SetOperation(action.Method, op)
}

// =============================================================================
// Schema Reflection
// =============================================================================

var timeType = reflect.TypeOf(time.Time{})

// SchemaOf returns the schema of a Go value, following its json tags.
// Fields tagged "-" are skipped.
func SchemaOf(model interface{}) *openapi3.SchemaRef {
	if model == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
	return schemaForType(reflect.TypeOf(model))
}

func schemaForType(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return scalar("string", "")
	case reflect.Bool:
		return scalar("boolean", "")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return scalar("integer", "int32")
	case reflect.Int64:
		return scalar("integer", "int64")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return scalar("integer", "")
	case reflect.Float32:
		return scalar("number", "float")
	case reflect.Float64:
		return scalar("number", "double")
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaForType(t.Elem())}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: schemaForType(t.Elem())},
		}}
	case reflect.Ptr:
		s := schemaForType(t.Elem())
		s.Value.Nullable = true
		return s
	case reflect.Struct:
		if t == timeType {
			return scalar("string", "date-time")
		}
		return structSchema(t)
	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

func structSchema(t reflect.Type) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		props[name] = schemaForType(field.Type)
	}
	return objectSchema(props)
}

// =============================================================================
// Builders
// =============================================================================

func scalar(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}, Format: format}}
}

func ref(name string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func jsonAPIErrorSchema() *openapi3.SchemaRef {
	entry := objectSchema(openapi3.Schemas{
		"status": scalar("string", ""),
		"title":  scalar("string", ""),
		"detail": scalar("string", ""),
	})
	return objectSchema(openapi3.Schemas{
		"errors": {Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: entry}},
	})
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:     name,
		In:       openapi3.ParameterInPath,
		Required: true,
		Schema:   scalar("string", ""),
	}}
}

func queryParam(name, typ string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:   name,
		In:     openapi3.ParameterInQuery,
		Schema: scalar(typ, ""),
	}}
}

func requestBody(schema *openapi3.SchemaRef, mediaType string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content:  openapi3.Content{mediaType: &openapi3.MediaType{Schema: schema}},
	}}
}

// responses builds a response set. A nil schema means no body.
func responses(codes map[int]*openapi3.SchemaRef, mediaType string) *openapi3.Responses {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	out := &openapi3.Responses{}
	for _, code := range keys {
		desc := http.StatusText(code)
		resp := &openapi3.Response{Description: &desc}
		if schema := codes[code]; schema != nil {
			resp.Content = openapi3.Content{mediaType: &openapi3.MediaType{Schema: schema}}
		}
		out.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: resp})
	}
	return out
}

// =============================================================================
// Helpers
// =============================================================================

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// singularize strips a plural suffix.
func singularize(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "ses"):
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s"):
		return s[:len(s)-1]
	default:
		return s
	}
}
