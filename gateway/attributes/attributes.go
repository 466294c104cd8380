// Package attributes implements the request attribute record that
// gateways propagate between each other: hop counts, origin labels and
// the via trail used for relay loop detection.
package attributes

import (
	"net/http"
	"strconv"
	"strings"
)

// Headers exchanged between gateways. Inbound values are parsed into a
// RequestAttributes record; outbound values are written by SetRequestHeaders.
const (
	HopsHeader              = "X-Ar-Io-Hops"
	OriginHeader            = "X-Ar-Io-Origin"
	OriginNodeReleaseHeader = "X-Ar-Io-Origin-Node-Release"
	ViaHeader               = "X-Ar-Io-Via"
)

// RequestAttributes travels with a request across gateway hops.
type RequestAttributes struct {
	Hops              uint32
	Origin            string
	OriginNodeRelease string
	ArNSName          string
	ArNSBasename      string
	ArNSRecord        string
	ClientIPs         []string
	Via               []string
}

// Parse reads the inbound attribute headers. A missing or malformed
// hops header counts as zero hops. Via entries are lowercased and
// trimmed so that loop checks are case-insensitive.
func Parse(h http.Header) *RequestAttributes {
	attrs := &RequestAttributes{
		Origin:            h.Get(OriginHeader),
		OriginNodeRelease: h.Get(OriginNodeReleaseHeader),
	}
	if raw := h.Get(HopsHeader); raw != "" {
		if hops, err := strconv.ParseUint(raw, 10, 32); err == nil {
			attrs.Hops = uint32(hops)
		}
	}
	attrs.Via = ParseVia(h.Get(ViaHeader))
	return attrs
}

// ParseVia splits a comma-separated via header into lowercased entries.
func ParseVia(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	via := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			via = append(via, p)
		}
	}
	if len(via) == 0 {
		return nil
	}
	return via
}

// FormatVia renders a via list as a comma-separated header value.
func FormatVia(via []string) string {
	return strings.Join(via, ", ")
}

// Forward returns the attributes an outbound relayed request must
// carry: hops incremented, this gateway appended to the via trail, and
// origin defaulted to the local identifier when the client supplied none.
func (a *RequestAttributes) Forward(selfID, release string) *RequestAttributes {
	out := a.Copy()
	out.Hops = a.Hops + 1
	self := strings.ToLower(selfID)
	if self != "" {
		out.Via = append(out.Via, self)
	}
	if out.Origin == "" {
		out.Origin = selfID
	}
	if release != "" {
		out.OriginNodeRelease = release
	}
	return out
}

// Copy returns a deep copy of the attributes.
func (a *RequestAttributes) Copy() *RequestAttributes {
	out := *a
	out.Via = append([]string(nil), a.Via...)
	out.ClientIPs = append([]string(nil), a.ClientIPs...)
	return &out
}

// ViaContains reports whether the given gateway identifier already
// appears in the via trail.
func (a *RequestAttributes) ViaContains(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, v := range a.Via {
		if v == id {
			return true
		}
	}
	return false
}

// SetRequestHeaders writes the attribute headers onto an outbound request.
func (a *RequestAttributes) SetRequestHeaders(h http.Header) {
	h.Set(HopsHeader, strconv.FormatUint(uint64(a.Hops), 10))
	if a.Origin != "" {
		h.Set(OriginHeader, a.Origin)
	}
	if a.OriginNodeRelease != "" {
		h.Set(OriginNodeReleaseHeader, a.OriginNodeRelease)
	}
	if len(a.Via) > 0 {
		h.Set(ViaHeader, FormatVia(a.Via))
	}
}
