// Package tenant validates tenant identifiers and resolves which
// tenant a request belongs to.
//
// A tenant identifier doubles as the schema prefix for every table
// reference, so validation is a security boundary: nothing may compose
// SQL before the identifier has passed the regex.
package tenant

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/roamhq/roam-saas-ai/internal/errors"
	"github.com/roamhq/roam-saas-ai/internal/kv"
)

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Valid reports whether s is a safe tenant identifier.
func Valid(s string) bool {
	return identRe.MatchString(s)
}

// Sources reported by Resolve, in precedence order.
const (
	SourceExplicit = "explicit"
	SourceOrigin   = "origin"
	SourceDefault  = "default"
)

const originKeyPrefix = "origin:"

// Resolver maps requests to tenants using the precedence
// explicit field > origin mapping > process default.
type Resolver struct {
	store    kv.Store
	fallback string
	log      *zap.Logger
}

// NewResolver creates a Resolver. fallback may be empty, in which case
// requests with no explicit tenant and no known origin fail.
func NewResolver(store kv.Store, fallback string, log *zap.Logger) *Resolver {
	return &Resolver{store: store, fallback: fallback, log: log}
}

// Resolve returns the tenant for a request plus the source it came
// from. At most one KV read happens per call.
func (r *Resolver) Resolve(ctx context.Context, explicit, hostname string) (string, string, error) {
	if explicit != "" {
		if !Valid(explicit) {
			return "", "", errors.Newf(errors.BadTenant, "invalid tenant identifier %q", explicit)
		}
		return explicit, SourceExplicit, nil
	}

	if hostname != "" {
		mapped, ok, err := r.Lookup(ctx, hostname)
		if err != nil {
			if errors.HasCode(err, errors.BadTenant) {
				return "", "", err
			}
			// A cache outage must not fail the request; fall back.
			r.log.Warn("origin lookup failed", zap.String("hostname", hostname), zap.Error(err))
		} else if ok {
			return mapped, SourceOrigin, nil
		}
	}

	if r.fallback == "" {
		return "", "", errors.New(errors.BadTenant, "no tenant resolved for request")
	}
	if !Valid(r.fallback) {
		return "", "", errors.Newf(errors.BadTenant, "invalid default tenant %q", r.fallback)
	}
	return r.fallback, SourceDefault, nil
}

// Lookup resolves a hostname mapping without applying the default.
// The stored value has the shape {tenant}.{rootDomain}; the segment
// before the first dot must itself pass the tenant regex.
func (r *Resolver) Lookup(ctx context.Context, hostname string) (string, bool, error) {
	host := NormalizeHost(hostname)
	if host == "" {
		return "", false, nil
	}

	raw, ok, err := r.store.Get(ctx, originKeyPrefix+host)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	mapped := raw
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		mapped = raw[:i]
	}
	if !Valid(mapped) {
		return "", false, errors.Newf(errors.BadTenant, "origin mapping for %q yields invalid tenant %q", host, mapped)
	}
	return mapped, true, nil
}

// NormalizeHost lower-cases a hostname and strips any scheme or port.
func NormalizeHost(hostname string) string {
	h := strings.TrimSpace(strings.ToLower(hostname))
	h = strings.TrimPrefix(h, "https://")
	h = strings.TrimPrefix(h, "http://")
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	if i := strings.IndexByte(h, ':'); i >= 0 {
		h = h[:i]
	}
	return h
}
