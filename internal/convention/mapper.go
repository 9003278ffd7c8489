// Package convention maps gRPC method names to HTTP routes by naming
// convention. GetUser becomes GET /api/users/:id, ListUsers becomes
// GET /api/users, and so on. The mapping is a pure function.
package convention

import (
	"net/http"
	"strings"
	"unicode"
)

// Route is a mapped HTTP route for one gRPC method.
type Route struct {
	Method string
	Path   string
}

// prefixes in match order. Unpublish precedes Publish so the longer
// prefix wins.
var prefixes = []string{
	"Unpublish",
	"Publish",
	"Create",
	"Update",
	"Delete",
	"Remove",
	"List",
	"Get",
	"Add",
}

// Map translates a bare gRPC method name to an HTTP route. The second
// return is false for names matching no recognised prefix; such methods
// are skipped at discovery.
func Map(methodName string) (Route, bool) {
	for _, prefix := range prefixes {
		if !strings.HasPrefix(methodName, prefix) {
			continue
		}
		suffix := methodName[len(prefix):]
		if suffix == "" {
			return Route{}, false
		}
		return mapPrefix(prefix, suffix)
	}
	return Route{}, false
}

func mapPrefix(prefix, suffix string) (Route, bool) {
	parent, child := splitCompound(suffix)

	switch prefix {
	case "Get":
		if child == "" {
			return Route{http.MethodGet, "/api/" + pluralize(lower(suffix)) + "/:id"}, true
		}
		if looksPlural(child) {
			return Route{http.MethodGet, "/api/" + pluralize(lower(parent)) + "/:id/" + lower(child)}, true
		}
		c := lower(child)
		return Route{http.MethodGet, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(c) + "/:" + c + "_id"}, true

	case "List":
		// List suffixes arrive already plural; lowercase only.
		if child == "" {
			return Route{http.MethodGet, "/api/" + lower(suffix)}, true
		}
		return Route{http.MethodGet, "/api/" + pluralize(lower(parent)) + "/:id/" + lower(child)}, true

	case "Create":
		if child == "" {
			return Route{http.MethodPost, "/api/" + pluralize(lower(suffix))}, true
		}
		return Route{http.MethodPost, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(lower(child))}, true

	case "Update":
		if child == "" {
			return Route{http.MethodPut, "/api/" + pluralize(lower(suffix)) + "/:id"}, true
		}
		c := lower(child)
		return Route{http.MethodPut, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(c) + "/:" + c + "_id"}, true

	case "Delete":
		if child == "" {
			return Route{http.MethodDelete, "/api/" + pluralize(lower(suffix)) + "/:id"}, true
		}
		c := lower(child)
		return Route{http.MethodDelete, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(c) + "/:" + c + "_id"}, true

	case "Add":
		// Add always splits; without a boundary the whole suffix is the
		// parent collection.
		if child == "" {
			return Route{http.MethodPost, "/api/" + pluralize(lower(suffix))}, true
		}
		return Route{http.MethodPost, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(lower(child))}, true

	case "Remove":
		if child == "" {
			return Route{http.MethodDelete, "/api/" + pluralize(lower(suffix)) + "/:id"}, true
		}
		c := lower(child)
		return Route{http.MethodDelete, "/api/" + pluralize(lower(parent)) + "/:id/" + pluralize(c) + "/:" + c + "_id"}, true

	case "Publish":
		return Route{http.MethodPost, "/api/" + pluralize(lower(suffix)) + "/:id/publish"}, true

	case "Unpublish":
		return Route{http.MethodPost, "/api/" + pluralize(lower(suffix)) + "/:id/unpublish"}, true
	}
	return Route{}, false
}

// splitCompound splits a CamelCase suffix at the last lowercase→uppercase
// boundary. "UserGroups" → ("User", "Groups"); "User" → ("User", "").
func splitCompound(suffix string) (parent, child string) {
	runes := []rune(suffix)
	for i := len(runes) - 1; i > 0; i-- {
		if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
			return string(runes[:i]), string(runes[i:])
		}
	}
	return suffix, ""
}

// looksPlural reports whether a child segment names a collection.
func looksPlural(s string) bool {
	l := lower(s)
	return strings.HasSuffix(l, "s") || l == pluralize(l)
}

func lower(s string) string { return strings.ToLower(s) }

// pluralize applies simple English pluralisation.
func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"),
		strings.HasSuffix(s, "ss"), strings.HasSuffix(s, "x"), strings.HasSuffix(s, "z"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(s[len(s)-2]):
		return s[:len(s)-1] + "ies"
	case strings.HasSuffix(s, "s"):
		return s
	default:
		return s + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
