// SPDX-License-Identifier: Apache-2.0

// Package endpoint holds the typed, immutable representation of a single
// platform API endpoint — method, path template, accepted credential
// kinds, and envelope shape — plus the URL assembly mechanism that
// guarantees every named path parameter is substituted exactly once.
//
// Descriptors are, in practice, statically known: the generated
// endpoint-specific layer (out of scope for this core, per spec.md §1)
// constructs one Descriptor per API and hands it to transport.Pipeline.
package endpoint

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/openlark/sdk-go/oapierr"
)

// CredentialKind enumerates the credential flavors an endpoint may
// accept. The transport selects among a Descriptor's CredentialKinds in
// preference order tenant > app > user.
type CredentialKind int

const (
	CredentialApp CredentialKind = iota
	CredentialTenant
	CredentialUser
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialApp:
		return "app"
	case CredentialTenant:
		return "tenant"
	case CredentialUser:
		return "user"
	default:
		return "unknown"
	}
}

// EnvelopeShape selects how the transport deserializes the "data" portion
// of a response envelope.
type EnvelopeShape int

const (
	// EnvelopeWrapped means the payload fields live under "data".
	EnvelopeWrapped EnvelopeShape = iota
	// EnvelopeFlattened means the payload fields sit at the envelope's
	// top level, alongside code/msg.
	EnvelopeFlattened
)

// Descriptor is the typed representation of a single endpoint.
type Descriptor struct {
	Method          string
	PathTemplate    string
	CredentialKinds []CredentialKind
	Envelope        EnvelopeShape
}

// AcceptsAny reports whether the descriptor accepts at least one of the
// given kinds, and returns the highest-preference one found, in the
// order tenant > app > user.
func (d Descriptor) AcceptsAny(available ...CredentialKind) (CredentialKind, bool) {
	pref := []CredentialKind{CredentialTenant, CredentialApp, CredentialUser}

	has := func(k CredentialKind) bool {
		for _, a := range available {
			if a == k {
				return true
			}
		}
		return false
	}

	accepted := func(k CredentialKind) bool {
		for _, dk := range d.CredentialKinds {
			if dk == k {
				return true
			}
		}
		return false
	}

	for _, k := range pref {
		if accepted(k) && has(k) {
			return k, true
		}
	}
	return 0, false
}

// pathParamNames returns the set of {name} placeholders in the template,
// in first-occurrence order.
func pathParamNames(template string) []string {
	var names []string
	seen := map[string]struct{}{}

	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			break
		}
		name := rest[start+1 : start+end]
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		rest = rest[start+end+1:]
	}
	return names
}

// BuildURL substitutes every named path parameter in the descriptor's
// template exactly once (a template may reference the same name more
// than once; each occurrence is replaced from the same lookup), appends
// sorted-by-name query parameters, and joins the result onto base. It
// fails fast (oapierr.Validation) if any required parameter is missing,
// or if a "{" survives substitution (an unknown placeholder).
func (d Descriptor) BuildURL(base string, pathParams, query map[string]string) (string, error) {
	path := d.PathTemplate
	for _, name := range pathParamNames(d.PathTemplate) {
		val, ok := pathParams[name]
		if !ok || val == "" {
			return "", oapierr.Validation(name, "required path parameter is missing")
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(val))
	}

	if strings.ContainsRune(path, '{') {
		return "", oapierr.Validation("path", "unresolved path parameter remains after substitution")
	}

	full := strings.TrimRight(base, "/") + path

	if len(query) == 0 {
		return full, nil
	}

	names := make([]string, 0, len(query))
	for k := range query {
		names = append(names, k)
	}
	sort.Strings(names)

	values := url.Values{}
	for _, k := range names {
		values.Set(k, query[k])
	}

	return fmt.Sprintf("%s?%s", full, values.Encode()), nil
}
