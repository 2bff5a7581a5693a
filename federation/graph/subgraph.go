package graph

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// EntityKey represents the @key directive information of an Entity.
type EntityKey struct {
	FieldSet   string // Field set specified in @key (e.g., "id")
	Resolvable bool   // Resolvable parameter of @key directive
}

// OverrideMetadata represents the @override directive information.
type OverrideMetadata struct {
	From  string // The source subgraph name (e.g., "products")
	Label string // Progressive override label, empty when the override is unconditional
}

// Field represents the federation metadata of a field in one subgraph.
type Field struct {
	Name     string    // Field name
	Type     *ast.Type // Field type
	Requires string    // Selection set of @requires(fields:)
	Provides string    // Selection set of @provides(fields:)

	Override *OverrideMetadata // @override(from:, label:)
	Tags     []string          // @tag(name:)

	isShareable    bool
	isExternal     bool
	isInaccessible bool
	isKey          bool
}

// Entity represents a type with at least one @key directive.
type Entity struct {
	Keys []EntityKey // Key information of the Entity

	isExtension       bool
	isInterfaceObject bool
}

// SubGraph represents a subgraph and the federation metadata of its schema.
type SubGraph struct {
	Name   string              // Subgraph name (e.g., "product")
	Host   string              // Host (e.g., "http://product.example.com/query")
	SDL    string              // Raw schema
	Schema *ast.SchemaDocument // Schema AST

	ComposeDirectives []string // @composeDirective directives

	types     map[string]*ast.Definition
	typeOrder []string
	entities  map[string]*Entity
	fields    map[string]map[string]*Field
	rootTypes map[ast.Operation]string
}

// NewSubGraph parses the schema of a subgraph and extracts its federation metadata.
// It analyzes @key, @requires, @provides, @shareable, @external, @override,
// @interfaceObject, @inaccessible and @tag.
func NewSubGraph(name string, src []byte, host string) (*SubGraph, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: string(src)})
	if err != nil {
		return nil, fmt.Errorf("parse error in subgraph %q: %w", name, err)
	}

	sg := &SubGraph{
		Name:      name,
		Host:      host,
		SDL:       string(src),
		Schema:    doc,
		types:     make(map[string]*ast.Definition),
		entities:  make(map[string]*Entity),
		fields:    make(map[string]map[string]*Field),
		rootTypes: make(map[ast.Operation]string),
	}

	for _, def := range doc.Definitions {
		sg.mergeDefinition(def, false)
	}
	for _, ext := range doc.Extensions {
		sg.mergeDefinition(ext, true)
	}

	for _, schemaDefs := range []ast.SchemaDefinitionList{doc.Schema, doc.SchemaExtension} {
		for _, sd := range schemaDefs {
			for _, ot := range sd.OperationTypes {
				sg.rootTypes[ot.Operation] = ot.Type
			}
			sg.ComposeDirectives = append(sg.ComposeDirectives, composeDirectives(sd.Directives)...)
		}
	}
	defaults := map[ast.Operation]string{
		ast.Query:        "Query",
		ast.Mutation:     "Mutation",
		ast.Subscription: "Subscription",
	}
	for op, typeName := range defaults {
		if _, ok := sg.rootTypes[op]; ok {
			continue
		}
		if _, ok := sg.types[typeName]; ok {
			sg.rootTypes[op] = typeName
		}
	}

	for _, typeName := range sg.typeOrder {
		sg.extractMetadata(sg.types[typeName])
	}

	return sg, nil
}

// mergeDefinition folds a type definition or extension into the subgraph-local view of the type.
func (sg *SubGraph) mergeDefinition(def *ast.Definition, extension bool) {
	if isFederationInternalType(def.Name) {
		return
	}

	existing, ok := sg.types[def.Name]
	if !ok {
		existing = &ast.Definition{
			Kind:        def.Kind,
			Description: def.Description,
			Name:        def.Name,
			Position:    def.Position,
		}
		sg.types[def.Name] = existing
		sg.typeOrder = append(sg.typeOrder, def.Name)
		if extension {
			sg.entities[def.Name] = &Entity{isExtension: true}
		}
	}

	existing.Directives = append(existing.Directives, def.Directives...)
	existing.Interfaces = appendMissing(existing.Interfaces, def.Interfaces...)
	existing.Types = appendMissing(existing.Types, def.Types...)
	for _, f := range def.Fields {
		if f.Name == "_entities" || f.Name == "_service" {
			continue
		}
		if existing.Fields.ForName(f.Name) == nil {
			existing.Fields = append(existing.Fields, f)
		}
	}
	for _, v := range def.EnumValues {
		if existing.EnumValues.ForName(v.Name) == nil {
			existing.EnumValues = append(existing.EnumValues, v)
		}
	}
}

// extractMetadata parses type and field level federation directives of a merged definition.
func (sg *SubGraph) extractMetadata(def *ast.Definition) {
	if def.Kind != ast.Object && def.Kind != ast.Interface {
		return
	}

	if def.Directives.ForName("key") != nil {
		entity, ok := sg.entities[def.Name]
		if !ok {
			entity = &Entity{}
			sg.entities[def.Name] = entity
		}
		entity.Keys = parseEntityKeys(def.Directives)
		entity.isInterfaceObject = def.Directives.ForName("interfaceObject") != nil
	} else {
		// plain extensions without @key are not entities
		delete(sg.entities, def.Name)
	}

	keyFields := make(map[string]bool)
	if entity, ok := sg.entities[def.Name]; ok {
		for _, key := range entity.Keys {
			sel, err := ParseFieldSet(key.FieldSet)
			if err != nil {
				continue
			}
			for _, s := range sel {
				if f, ok := s.(*ast.Field); ok {
					keyFields[f.Name] = true
				}
			}
		}
	}

	typeShareable := def.Directives.ForName("shareable") != nil
	typeExternal := def.Directives.ForName("external") != nil

	fields := make(map[string]*Field, len(def.Fields))
	for _, fd := range def.Fields {
		f := parseField(fd)
		f.isShareable = f.isShareable || typeShareable
		f.isExternal = f.isExternal || typeExternal
		f.isKey = keyFields[fd.Name]
		fields[fd.Name] = f
	}
	sg.fields[def.Name] = fields
}

// GetEntities returns the entities map.
func (sg *SubGraph) GetEntities() map[string]*Entity {
	return sg.entities
}

// GetEntity returns the Entity with the specified name.
func (sg *SubGraph) GetEntity(name string) (*Entity, bool) {
	entity, ok := sg.entities[name]
	return entity, ok
}

// Type returns the subgraph-local definition of a type, merged across its extensions.
func (sg *SubGraph) Type(name string) (*ast.Definition, bool) {
	def, ok := sg.types[name]
	return def, ok
}

// TypeNames returns the names of all types of the subgraph in declaration order.
func (sg *SubGraph) TypeNames() []string {
	return sg.typeOrder
}

// Field returns the metadata of typeName.fieldName in this subgraph.
func (sg *SubGraph) Field(typeName, fieldName string) (*Field, bool) {
	fields, ok := sg.fields[typeName]
	if !ok {
		return nil, false
	}
	f, ok := fields[fieldName]
	return f, ok
}

// RootTypeName returns the root type name of the operation kind, or "" when the subgraph has none.
func (sg *SubGraph) RootTypeName(op ast.Operation) string {
	return sg.rootTypes[op]
}

// ResolvableKeys returns the resolvable keys of an entity in this subgraph.
func (sg *SubGraph) ResolvableKeys(typeName string) []EntityKey {
	entity, ok := sg.entities[typeName]
	if !ok {
		return nil
	}
	var keys []EntityKey
	for _, k := range entity.Keys {
		if k.Resolvable {
			keys = append(keys, k)
		}
	}
	return keys
}

// ParseFieldSet parses a federation field set such as "id sku { upc }" into a selection set.
func ParseFieldSet(fieldSet string) (ast.SelectionSet, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "fieldset", Input: "{" + fieldSet + "}"})
	if err != nil {
		return nil, fmt.Errorf("invalid field set %q: %w", fieldSet, err)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("invalid field set %q", fieldSet)
	}
	return doc.Operations[0].SelectionSet, nil
}

// parseEntityKeys parses EntityKey list from @key directives.
func parseEntityKeys(directives ast.DirectiveList) []EntityKey {
	var keys []EntityKey
	for _, d := range directives.ForNames("key") {
		key := EntityKey{Resolvable: true}
		if arg := d.Arguments.ForName("fields"); arg != nil && arg.Value != nil {
			key.FieldSet = strings.TrimSpace(arg.Value.Raw)
		}
		if arg := d.Arguments.ForName("resolvable"); arg != nil && arg.Value != nil && arg.Value.Raw == "false" {
			key.Resolvable = false
		}
		keys = append(keys, key)
	}
	return keys
}

// parseField creates a Field structure from field definition.
func parseField(field *ast.FieldDefinition) *Field {
	f := &Field{
		Name: field.Name,
		Type: field.Type,
	}

	for _, d := range field.Directives {
		switch d.Name {
		case "requires":
			f.Requires = stringArgument(d, "fields")
		case "provides":
			f.Provides = stringArgument(d, "fields")
		case "shareable":
			f.isShareable = true
		case "external":
			f.isExternal = true
		case "override":
			f.Override = &OverrideMetadata{
				From:  stringArgument(d, "from"),
				Label: stringArgument(d, "label"),
			}
		case "inaccessible":
			f.isInaccessible = true
		case "tag":
			f.Tags = append(f.Tags, stringArgument(d, "name"))
		}
	}

	return f
}

func stringArgument(d *ast.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return strings.TrimSpace(arg.Value.Raw)
}

// composeDirectives extracts @composeDirective names from a schema definition.
func composeDirectives(directives ast.DirectiveList) []string {
	var names []string
	for _, d := range directives.ForNames("composeDirective") {
		names = append(names, stringArgument(d, "name"))
	}
	return names
}

func isFederationInternalType(name string) bool {
	switch name {
	case "_Any", "_Entity", "_Service", "FieldSet", "_FieldSet":
		return true
	}
	return strings.HasPrefix(name, "link__") || strings.HasPrefix(name, "federation__")
}

func appendMissing(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// IsShareable returns whether the field has @shareable directive.
func (f *Field) IsShareable() bool {
	return f.isShareable
}

// IsExternal returns whether the field is @external and not part of a local key.
func (f *Field) IsExternal() bool {
	return f.isExternal && !f.isKey
}

// IsInaccessible returns whether the field has @inaccessible directive.
func (f *Field) IsInaccessible() bool {
	return f.isInaccessible
}

// IsExtension returns whether the Entity is defined as an extension.
func (e *Entity) IsExtension() bool {
	return e.isExtension
}

// IsResolvable returns whether the Entity has at least one resolvable key.
// If all keys have resolvable: false, this returns false.
func (e *Entity) IsResolvable() bool {
	for _, key := range e.Keys {
		if key.Resolvable {
			return true
		}
	}
	return false
}

// IsInterfaceObject returns whether the Entity has @interfaceObject directive.
func (e *Entity) IsInterfaceObject() bool {
	return e.isInterfaceObject
}
