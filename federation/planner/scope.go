package planner

import (
	"strings"

	"github.com/n9te9/go-graphql-federation-planner/federation/graph"
	"github.com/vektah/gqlparser/v2/ast"
)

// Scope is an immutable chain of type conditions narrowing the runtime types of a position.
// The innermost link comes first.
type Scope struct {
	parentType *ast.Definition
	directives ast.DirectiveList
	enclosing  *Scope

	cache *scopeCache
	key   string
}

// scopeCache memoizes runtime type intersections per scope identity for one planning call.
type scopeCache struct {
	superGraph   *graph.SuperGraph
	runtimeTypes map[string][]string
}

func newScopeCache(superGraph *graph.SuperGraph) *scopeCache {
	return &scopeCache{
		superGraph:   superGraph,
		runtimeTypes: make(map[string][]string),
	}
}

// create returns the root scope of a type.
func (c *scopeCache) create(def *ast.Definition) *Scope {
	return newScope(c, def, nil, nil)
}

func newScope(c *scopeCache, def *ast.Definition, directives ast.DirectiveList, enclosing *Scope) *Scope {
	s := &Scope{parentType: def, directives: directives, enclosing: enclosing, cache: c}
	var sb strings.Builder
	sb.WriteString(def.Name)
	sb.WriteString(directivesKey(directives))
	if enclosing != nil {
		sb.WriteString("/")
		sb.WriteString(enclosing.key)
	}
	s.key = sb.String()
	return s
}

// ParentType returns the innermost type of the chain.
func (s *Scope) ParentType() *ast.Definition { return s.parentType }

// Directives returns the directives of the innermost link.
func (s *Scope) Directives() ast.DirectiveList { return s.directives }

// Enclosing returns the next link, or nil.
func (s *Scope) Enclosing() *Scope { return s.enclosing }

// IdentityKey is equal for scopes with the same links and equivalent directives.
func (s *Scope) IdentityKey() string { return s.key }

// Refine narrows the scope to def. Refining to the current type without directives returns s.
// A link that is a supertype of def and carries no directives is dropped.
func (s *Scope) Refine(def *ast.Definition, directives ast.DirectiveList) *Scope {
	if def.Name == s.parentType.Name && len(directives) == 0 {
		return s
	}
	if len(s.directives) == 0 && s.cache.superGraph.IsSubType(s.parentType.Name, def.Name) {
		return newScope(s.cache, def, directives, s.enclosing)
	}
	return newScope(s.cache, def, directives, s)
}

// PossibleRuntimeTypes returns the object type names every link of the chain admits, sorted.
func (s *Scope) PossibleRuntimeTypes() []string {
	if types, ok := s.cache.runtimeTypes[s.key]; ok {
		return types
	}
	var types []string
	for _, d := range s.cache.superGraph.PossibleRuntimeTypes(s.parentType.Name) {
		types = append(types, d.Name)
	}
	if s.enclosing != nil {
		types = intersect(types, s.enclosing.PossibleRuntimeTypes())
	}
	s.cache.runtimeTypes[s.key] = types
	return types
}

// IsStrictlyRefining reports whether a link of the chain is a strict runtime subtype of typeName.
func (s *Scope) IsStrictlyRefining(typeName string) bool {
	sg := s.cache.superGraph
	for l := s; l != nil; l = l.enclosing {
		if l.parentType.Name != typeName && sg.IsSubType(typeName, l.parentType.Name) {
			return true
		}
	}
	return false
}

// links returns the chain from the outermost link to the innermost one.
func (s *Scope) links() []*Scope {
	var out []*Scope
	for l := s; l != nil; l = l.enclosing {
		out = append(out, l)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// intersects reports whether a value of typeName can satisfy the scope.
func (s *Scope) intersects(typeName string) bool {
	candidates := s.cache.superGraph.PossibleRuntimeTypes(typeName)
	possible := s.PossibleRuntimeTypes()
	for _, c := range candidates {
		if containsName(possible, c.Name) {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if containsName(b, v) {
			out = append(out, v)
		}
	}
	return out
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
