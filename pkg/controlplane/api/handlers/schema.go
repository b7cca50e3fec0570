package handlers

import (
	"net/http"

	"github.com/invopop/jsonschema"
)

// SchemaHandler serves a generated JSON Schema document describing the
// control surface's request/response bodies, so a CLI or a third-party
// client can validate against the wire shapes without parsing this repo.
type SchemaHandler struct {
	reflector *jsonschema.Reflector
}

// NewSchemaHandler builds a SchemaHandler.
func NewSchemaHandler() *SchemaHandler {
	return &SchemaHandler{reflector: &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}}
}

// schemaTypes lists every REST request/response body the schema document
// covers. Add an entry here whenever a handler gains a new JSON type.
var schemaTypes = map[string]any{
	"CreatePeerRequest":   CreatePeerRequest{},
	"UpdatePeerRequest":   UpdatePeerRequest{},
	"PeerResponse":        PeerResponse{},
	"CreateExportRequest": CreateExportRequest{},
	"ExportResponse":      ExportResponse{},
	"QueryResponse":       QueryResponse{},
	"ExportFdResponse":    ExportFdResponse{},
	"Problem":             Problem{},
}

// Get handles GET /v1/schema.
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc := make(map[string]*jsonschema.Schema, len(schemaTypes))
	for name, v := range schemaTypes {
		doc[name] = h.reflector.Reflect(v)
	}
	WriteJSONOK(w, doc)
}
