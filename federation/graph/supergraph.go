package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

// ErrNoSubGraphs is returned when a super graph is composed from an empty subgraph list.
var ErrNoSubGraphs = errors.New("no subgraphs to compose")

var builtinScalars = []string{"Int", "Float", "String", "Boolean", "ID"}

// SuperGraph represents an aggregated super graph composed of multiple subgraphs.
type SuperGraph struct {
	SubGraphs  []*SubGraph            // List of subgraphs, sorted by name
	Schema     *ast.Schema            // Composed schema
	Ownership  map[string][]*SubGraph // Field ownership map (e.g., "Product.id" -> [SubGraph])
	QueryGraph *QueryGraph            // Federation query graph

	subGraphsByName map[string]*SubGraph
}

// NewSuperGraph creates a super graph from a list of subgraphs.
// The result does not depend on the order of subGraphs.
func NewSuperGraph(subGraphs []*SubGraph) (*SuperGraph, error) {
	if len(subGraphs) == 0 {
		return nil, ErrNoSubGraphs
	}

	sorted := make([]*SubGraph, len(subGraphs))
	copy(sorted, subGraphs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	sg := &SuperGraph{
		SubGraphs:       sorted,
		Ownership:       make(map[string][]*SubGraph),
		subGraphsByName: make(map[string]*SubGraph, len(sorted)),
	}
	for _, s := range sorted {
		if _, dup := sg.subGraphsByName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate subgraph name %q", s.Name)
		}
		sg.subGraphsByName[s.Name] = s
	}

	if err := sg.composeSchema(); err != nil {
		return nil, err
	}
	sg.buildOwnershipMap()
	sg.QueryGraph = BuildQueryGraph(sg)

	return sg, nil
}

// composeSchema merges the subgraph-local type definitions into one schema.
func (sg *SuperGraph) composeSchema() error {
	schema := &ast.Schema{
		Types:         make(map[string]*ast.Definition),
		Directives:    make(map[string]*ast.DirectiveDefinition),
		PossibleTypes: make(map[string][]*ast.Definition),
		Implements:    make(map[string][]*ast.Definition),
	}
	for _, name := range builtinScalars {
		schema.Types[name] = &ast.Definition{Kind: ast.Scalar, Name: name, BuiltIn: true}
	}

	var interfaceObjects []*ast.Definition
	for _, sub := range sg.SubGraphs {
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			if entity, ok := sub.GetEntity(typeName); ok && entity.IsInterfaceObject() {
				interfaceObjects = append(interfaceObjects, def)
				continue
			}

			existing, ok := schema.Types[typeName]
			if !ok {
				schema.Types[typeName] = copyDefinition(def)
				continue
			}
			if existing.BuiltIn {
				continue
			}
			if existing.Kind != def.Kind {
				return fmt.Errorf("type %q is %s in subgraph %q but %s elsewhere", typeName, def.Kind, sub.Name, existing.Kind)
			}
			mergeDefinitionInto(existing, def)
		}
	}

	// @interfaceObject fields are contributed to the interface and to every implementation.
	for _, def := range interfaceObjects {
		iface, ok := schema.Types[def.Name]
		if !ok {
			return fmt.Errorf("@interfaceObject %q has no matching interface", def.Name)
		}
		for _, f := range def.Fields {
			if iface.Fields.ForName(f.Name) == nil {
				iface.Fields = append(iface.Fields, f)
			}
		}
	}
	for _, def := range interfaceObjects {
		for _, t := range schema.Types {
			if t.Kind != ast.Object || !containsString(t.Interfaces, def.Name) {
				continue
			}
			for _, f := range def.Fields {
				if t.Fields.ForName(f.Name) == nil {
					t.Fields = append(t.Fields, f)
				}
			}
		}
	}

	names := make([]string, 0, len(schema.Types))
	for name := range schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := schema.Types[name]
		switch def.Kind {
		case ast.Union:
			for _, member := range def.Types {
				if m, ok := schema.Types[member]; ok {
					schema.AddPossibleType(def.Name, m)
					schema.AddImplements(member, def)
				}
			}
		case ast.Object:
			for _, intf := range def.Interfaces {
				if i, ok := schema.Types[intf]; ok {
					schema.AddPossibleType(intf, def)
					schema.AddImplements(def.Name, i)
				}
			}
			schema.AddPossibleType(def.Name, def)
		}
	}

	for _, op := range []ast.Operation{ast.Query, ast.Mutation, ast.Subscription} {
		var root *ast.Definition
		for _, sub := range sg.SubGraphs {
			if name := sub.RootTypeName(op); name != "" {
				root = schema.Types[name]
				break
			}
		}
		switch op {
		case ast.Query:
			schema.Query = root
		case ast.Mutation:
			schema.Mutation = root
		case ast.Subscription:
			schema.Subscription = root
		}
	}
	if schema.Query == nil {
		return errors.New("composition failed: no subgraph defines a query root type")
	}

	sg.Schema = schema
	return nil
}

func copyDefinition(def *ast.Definition) *ast.Definition {
	return &ast.Definition{
		Kind:        def.Kind,
		Description: def.Description,
		Name:        def.Name,
		Interfaces:  append([]string(nil), def.Interfaces...),
		Fields:      append(ast.FieldList(nil), def.Fields...),
		Types:       append([]string(nil), def.Types...),
		EnumValues:  append(ast.EnumValueList(nil), def.EnumValues...),
		Position:    def.Position,
	}
}

func mergeDefinitionInto(existing, def *ast.Definition) {
	existing.Interfaces = appendMissing(existing.Interfaces, def.Interfaces...)
	existing.Types = appendMissing(existing.Types, def.Types...)
	for _, f := range def.Fields {
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

// buildOwnershipMap records which subgraphs resolve each field.
// A field overridden without a label is owned only by the overriding subgraph.
func (sg *SuperGraph) buildOwnershipMap() {
	for _, sub := range sg.SubGraphs {
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			for _, fd := range def.Fields {
				f, ok := sub.Field(typeName, fd.Name)
				if !ok || f.IsExternal() {
					continue
				}
				key := typeName + "." + fd.Name
				sg.Ownership[key] = append(sg.Ownership[key], sub)
			}
		}
	}

	for _, sub := range sg.SubGraphs {
		for _, typeName := range sub.TypeNames() {
			def, _ := sub.Type(typeName)
			for _, fd := range def.Fields {
				f, ok := sub.Field(typeName, fd.Name)
				if !ok || f.Override == nil || f.Override.Label != "" {
					continue
				}
				key := typeName + "." + fd.Name
				owners := sg.Ownership[key][:0:0]
				for _, o := range sg.Ownership[key] {
					if o.Name != f.Override.From {
						owners = append(owners, o)
					}
				}
				sg.Ownership[key] = owners
			}
		}
	}
}

// SubGraph returns the subgraph with the given name.
func (sg *SuperGraph) SubGraph(name string) (*SubGraph, bool) {
	s, ok := sg.subGraphsByName[name]
	return s, ok
}

// Type returns the composed definition of a type.
func (sg *SuperGraph) Type(name string) (*ast.Definition, bool) {
	def, ok := sg.Schema.Types[name]
	return def, ok
}

// FieldDefinition returns the composed definition of typeName.fieldName.
// __typename is available on every composite type.
func (sg *SuperGraph) FieldDefinition(typeName, fieldName string) (*ast.FieldDefinition, bool) {
	def, ok := sg.Schema.Types[typeName]
	if !ok {
		return nil, false
	}
	if fieldName == "__typename" && def.IsCompositeType() {
		return typenameField, true
	}
	fd := def.Fields.ForName(fieldName)
	return fd, fd != nil
}

var typenameField = &ast.FieldDefinition{Name: "__typename", Type: ast.NonNullNamedType("String", nil)}

// RootType returns the root type of an operation kind.
func (sg *SuperGraph) RootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Mutation:
		return sg.Schema.Mutation
	case ast.Subscription:
		return sg.Schema.Subscription
	default:
		return sg.Schema.Query
	}
}

// PossibleRuntimeTypes returns the object types a value of typeName can have at runtime, sorted by name.
func (sg *SuperGraph) PossibleRuntimeTypes(typeName string) []*ast.Definition {
	def, ok := sg.Schema.Types[typeName]
	if !ok {
		return nil
	}
	if def.Kind == ast.Object {
		return []*ast.Definition{def}
	}
	if !def.IsAbstractType() {
		return nil
	}
	possible := append([]*ast.Definition(nil), sg.Schema.PossibleTypes[typeName]...)
	sort.Slice(possible, func(i, j int) bool { return possible[i].Name < possible[j].Name })
	return possible
}

// IsAbstract reports whether typeName is an interface or a union.
func (sg *SuperGraph) IsAbstract(typeName string) bool {
	def, ok := sg.Schema.Types[typeName]
	return ok && def.IsAbstractType()
}

// IsSubType reports whether maybeSub is declared a subtype of typeName, either by
// implementing it directly or through another interface, or as a member of the union typeName.
// Two types with the same runtime types are not subtypes of each other unless declared so.
func (sg *SuperGraph) IsSubType(typeName, maybeSub string) bool {
	return sg.isSubType(typeName, maybeSub, make(map[string]bool))
}

func (sg *SuperGraph) isSubType(typeName, maybeSub string, seen map[string]bool) bool {
	if typeName == maybeSub {
		return true
	}
	if seen[maybeSub] {
		return false
	}
	seen[maybeSub] = true

	outer, ok := sg.Schema.Types[typeName]
	if !ok {
		return false
	}
	inner, ok := sg.Schema.Types[maybeSub]
	if !ok {
		return false
	}
	if outer.Kind == ast.Union {
		return inner.Kind == ast.Object && containsString(outer.Types, maybeSub)
	}
	if outer.Kind != ast.Interface {
		return false
	}
	for _, iface := range inner.Interfaces {
		if sg.isSubType(typeName, iface, seen) {
			return true
		}
	}
	return false
}

// GetSubGraphsForField returns the subgraphs that own typeName.fieldName.
func (sg *SuperGraph) GetSubGraphsForField(typeName, fieldName string) []*SubGraph {
	return sg.Ownership[typeName+"."+fieldName]
}

// GetEntityOwnerSubGraph returns the subgraph that originally defines an entity,
// that is the first subgraph with a resolvable key in which it is not an extension.
func (sg *SuperGraph) GetEntityOwnerSubGraph(typeName string) *SubGraph {
	for _, sub := range sg.SubGraphs {
		entity, ok := sub.GetEntity(typeName)
		if ok && !entity.IsExtension() && entity.IsResolvable() {
			return sub
		}
	}
	return nil
}

// IsInaccessible reports whether any subgraph marks typeName.fieldName @inaccessible.
func (sg *SuperGraph) IsInaccessible(typeName, fieldName string) bool {
	for _, sub := range sg.SubGraphs {
		if f, ok := sub.Field(typeName, fieldName); ok && f.IsInaccessible() {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
