package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/permagate/permagate/config/params"
	"github.com/permagate/permagate/gateway/arns"
	"github.com/permagate/permagate/gateway/arweave"
	"github.com/permagate/permagate/gateway/attributes"
	"github.com/permagate/permagate/gateway/sources"
	"github.com/permagate/permagate/runtime/version"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Response headers beyond the shared request attribute set.
const (
	cacheHeader          = "X-Cache"
	digestHeader         = "X-Ar-Io-Digest"
	arnsNameHeader       = "X-Ar-Io-Arns-Name"
	arnsBasenameHeader   = "X-Ar-Io-Arns-Basename"
	arnsRecordHeader     = "X-Ar-Io-Arns-Record"
	arnsResolvedIDHeader = "X-Ar-Io-Arns-Resolved-Id"
	arnsTTLHeader        = "X-Ar-Io-Arns-Ttl-Seconds"
	arnsProcessIDHeader  = "X-Ar-Io-Arns-Process-Id"
	arnsResolvedAtHeader = "X-Ar-Io-Arns-Resolved-At"
)

// handleData serves GET|HEAD /{id} and /{id}/{path...}, resolving
// manifest paths before streaming.
func (s *Service) handleData(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := arweave.IDFromString(vars["id"])
	if err != nil {
		s.writeNotFound(w)
		return
	}
	s.serve(w, r, id, vars["path"], false, nil)
}

// handleRaw serves GET|HEAD /raw/{id}: the stored payload exactly as
// it is, with no manifest interpretation and a restrictive sandbox.
func (s *Service) handleRaw(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := arweave.IDFromString(vars["id"])
	if err != nil {
		s.writeNotFound(w)
		return
	}
	h := w.Header()
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("Cross-Origin-Opener-Policy", "same-origin")
	h.Set("Cross-Origin-Embedder-Policy", "require-corp")
	s.serve(w, r, id, "", true, nil)
}

// handleName serves subdomain requests whose first label is a
// resolvable name. The whole request path is the manifest subpath.
func (s *Service) handleName(w http.ResponseWriter, r *http.Request, label string) {
	res, err := s.cfg.Names.Resolve(r.Context(), label)
	if err != nil {
		if errors.Is(err, arns.ErrNotFound) {
			s.writeNotFound(w)
			return
		}
		if sources.IsCancelled(err) {
			return
		}
		log.WithError(err).WithField("name", label).Error("Name resolution failed")
		s.writeInternalError(w)
		return
	}
	nameResolutionsServed.Inc()
	subpath := strings.TrimPrefix(r.URL.Path, "/")
	s.serve(w, r, res.TxID, subpath, false, res)
}

func (s *Service) handleUnknown(w http.ResponseWriter, _ *http.Request) {
	s.writeNotFound(w)
}

// serve runs the full retrieval flow for one request: attribute
// parsing, the relay depth guard, moderation, manifest resolution
// unless raw, then range evaluation and streaming.
func (s *Service) serve(w http.ResponseWriter, r *http.Request, id arweave.ID, subpath string, raw bool, name *arns.Resolution) {
	ctx, span := trace.StartSpan(r.Context(), "server.serve")
	defer span.End()

	reqAttrs := attributes.Parse(r.Header)
	reqAttrs.ClientIPs = clientIPs(r)
	if name != nil {
		reqAttrs.ArNSName = name.Name
		reqAttrs.ArNSBasename = name.BaseName
		reqAttrs.ArNSRecord = name.Record
	}
	if int(reqAttrs.Hops) >= params.Gateway().MaxHops {
		http.Error(w, "Too many hops", http.StatusBadRequest)
		return
	}
	if s.isBlocked(id) {
		s.writeNotFound(w)
		return
	}

	target := id
	if !raw {
		resolved, direct, err := s.resolveTarget(ctx, id, subpath, reqAttrs)
		if err != nil {
			s.writeDataError(w, err)
			return
		}
		if direct != nil {
			// Not a manifest after all; the resolution probe already
			// holds the full stream.
			if r.Header.Get("Range") != "" {
				size := direct.Size
				closeData(direct)
				s.serveTarget(ctx, w, r, id, reqAttrs, name, &size)
				return
			}
			attrs := s.lookupAttributes(ctx, id)
			if s.writeNotModified(w, r, attrs, name) {
				closeData(direct)
				return
			}
			s.writeData(w, r, http.StatusOK, direct, attrs, reqAttrs, name, "")
			return
		}
		if resolved == nil {
			s.writeNotFound(w)
			return
		}
		target = *resolved
		if target != id && s.isBlocked(target) {
			s.writeNotFound(w)
			return
		}
	}
	s.serveTarget(ctx, w, r, target, reqAttrs, name, nil)
}

// resolveTarget maps (id, subpath) onto the transaction to serve.
// When id turns out not to be a manifest and no subpath was asked for,
// the already fetched stream is handed back instead of being thrown
// away. A nil target with a nil stream means the path does not exist.
func (s *Service) resolveTarget(ctx context.Context, id arweave.ID, subpath string, reqAttrs *attributes.RequestAttributes) (*arweave.ID, *arweave.ContiguousData, error) {
	ctx, span := trace.StartSpan(ctx, "server.resolveTarget")
	defer span.End()

	attrs := s.lookupAttributes(ctx, id)
	if attrs != nil && !attrs.IsManifest {
		if subpath != "" {
			return nil, nil, nil
		}
		return &id, nil, nil
	}

	if s.cfg.Manifests != nil {
		res, err := s.cfg.Manifests.ResolveFromIndex(ctx, id, subpath)
		if err != nil {
			log.WithError(err).WithField("manifest", id.String()).Debug("Manifest index lookup failed")
		} else if res.Complete {
			return res.ID, nil, nil
		}
	}

	// The index had no definitive answer; consult the body itself.
	data, err := s.cfg.Data.GetData(ctx, id, reqAttrs, nil)
	if err != nil {
		return nil, nil, err
	}
	manifestLike := data.SourceContentType == arweave.ManifestContentType ||
		(attrs != nil && attrs.IsManifest)
	if !manifestLike {
		if subpath != "" {
			closeData(data)
			return nil, nil, nil
		}
		return nil, data, nil
	}
	if s.cfg.Manifests == nil {
		closeData(data)
		return nil, nil, nil
	}
	res, err := s.cfg.Manifests.ResolveFromData(ctx, id, data.Stream, subpath)
	closeData(data)
	if err != nil {
		log.WithError(err).WithField("manifest", id.String()).Debug("Manifest rejected")
		return nil, nil, nil
	}
	return res.ID, nil, nil
}

// serveTarget streams the payload of one transaction, honoring a
// single Range header when present. knownSize carries a payload size
// already learned by the caller so it is not fetched twice.
func (s *Service) serveTarget(ctx context.Context, w http.ResponseWriter, r *http.Request, id arweave.ID, reqAttrs *attributes.RequestAttributes, name *arns.Resolution, knownSize *uint64) {
	attrs := s.lookupAttributes(ctx, id)
	if s.writeNotModified(w, r, attrs, name) {
		return
	}

	rangeSpec := r.Header.Get("Range")
	if rangeSpec == "" {
		data, err := s.cfg.Data.GetData(ctx, id, reqAttrs, nil)
		if err != nil {
			s.writeDataError(w, err)
			return
		}
		s.writeData(w, r, http.StatusOK, data, attrs, reqAttrs, name, "")
		return
	}

	var total uint64
	switch {
	case attrs != nil && attrs.Size > 0:
		total = attrs.Size
	case knownSize != nil:
		total = *knownSize
	default:
		// Nothing knows the payload size yet, so learn it the
		// expensive way and drop the stream.
		probe, err := s.cfg.Data.GetData(ctx, id, reqAttrs, nil)
		if err != nil {
			s.writeDataError(w, err)
			return
		}
		total = probe.Size
		closeData(probe)
	}

	region, err := parseRange(rangeSpec, total)
	if err != nil {
		s.writeRangeError(w, err, total)
		return
	}
	data, err := s.cfg.Data.GetData(ctx, id, reqAttrs, region)
	if err != nil {
		if errors.Is(err, sources.ErrRangeUnsatisfiable) {
			s.writeRangeError(w, errUnsatisfiableRange, total)
			return
		}
		s.writeDataError(w, err)
		return
	}
	contentRange := fmt.Sprintf("bytes %d-%d/%d", region.Offset, region.Offset+data.Size-1, total)
	s.writeData(w, r, http.StatusPartialContent, data, attrs, reqAttrs, name, contentRange)
}

// writeData emits the response headers and streams the payload.
func (s *Service) writeData(w http.ResponseWriter, r *http.Request, status int, data *arweave.ContiguousData, attrs *arweave.DataAttributes, reqAttrs *attributes.RequestAttributes, name *arns.Resolution, contentRange string) {
	defer closeData(data)
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentTypeFor(data, attrs))
	h.Set("Content-Length", strconv.FormatUint(data.Size, 10))
	if contentRange != "" {
		h.Set("Content-Range", contentRange)
	}
	if data.Cached {
		h.Set(cacheHeader, "HIT")
	} else {
		h.Set(cacheHeader, "MISS")
	}
	if attrs != nil && len(attrs.Hash) > 0 {
		h.Set("ETag", etagFor(attrs.Hash))
		h.Set(digestHeader, hex.EncodeToString(attrs.Hash))
	}
	setCacheControl(h, attrs, name)
	s.setNameHeaders(h, name)

	// Attribute headers mirror what a relayed request would carry.
	out := data.RequestAttributes
	if out == nil && reqAttrs != nil {
		out = reqAttrs.Forward(s.cfg.GatewayID, version.Release())
	}
	if out != nil {
		out.SetRequestHeaders(h)
	}

	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, data.Stream); err != nil {
		log.WithError(err).Debug("Data stream interrupted")
	}
}

// writeNotModified answers If-None-Match revalidations when the
// payload hash is already on record.
func (s *Service) writeNotModified(w http.ResponseWriter, r *http.Request, attrs *arweave.DataAttributes, name *arns.Resolution) bool {
	if attrs == nil || len(attrs.Hash) == 0 {
		return false
	}
	match := r.Header.Get("If-None-Match")
	if match == "" {
		return false
	}
	etag := etagFor(attrs.Hash)
	if !etagMatches(match, etag) {
		return false
	}
	h := w.Header()
	h.Set("ETag", etag)
	h.Set(digestHeader, hex.EncodeToString(attrs.Hash))
	setCacheControl(h, attrs, name)
	s.setNameHeaders(h, name)
	w.WriteHeader(http.StatusNotModified)
	return true
}

// writeDataError maps a retrieval failure onto the public status
// taxonomy without leaking source internals.
func (s *Service) writeDataError(w http.ResponseWriter, err error) {
	var exhausted *sources.AllSourcesFailedError
	switch {
	case sources.IsCancelled(err):
		// The client went away; there is nobody left to answer.
	case errors.Is(err, sources.ErrNotFound), errors.Is(err, sources.ErrBlocked), errors.As(err, &exhausted):
		s.writeNotFound(w)
	case errors.Is(err, sources.ErrRangeUnsatisfiable):
		s.writeRangeError(w, errUnsatisfiableRange, 0)
	default:
		log.WithError(err).Error("Data retrieval failed")
		s.writeInternalError(w)
	}
}

func (s *Service) writeNotFound(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", params.Gateway().NotFoundMaxAge))
	w.WriteHeader(http.StatusNotFound)
	if _, err := w.Write([]byte("Not Found")); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}

func (s *Service) writeInternalError(w http.ResponseWriter) {
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Service) writeRangeError(w http.ResponseWriter, err error, total uint64) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	body := "Range not satisfiable"
	if errors.Is(err, errMalformedRange) {
		body = "Malformed 'range' header"
	} else if total > 0 {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	}
	w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	if _, err := w.Write([]byte(body)); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}

// setNameHeaders reports how a name request was resolved.
func (s *Service) setNameHeaders(h http.Header, name *arns.Resolution) {
	if name == nil {
		return
	}
	h.Set(arnsNameHeader, name.Name)
	h.Set(arnsBasenameHeader, name.BaseName)
	h.Set(arnsRecordHeader, name.Record)
	h.Set(arnsResolvedIDHeader, name.TxID.String())
	h.Set(arnsTTLHeader, strconv.FormatUint(nameTTL(name), 10))
	if name.ProcessID != "" {
		h.Set(arnsProcessIDHeader, name.ProcessID)
	}
	if !name.ResolvedAt.IsZero() {
		h.Set(arnsResolvedAtHeader, strconv.FormatInt(name.ResolvedAt.UnixMilli(), 10))
	}
}

// setCacheControl applies the client caching policy: name records use
// their registry TTL, stable payloads get the long immutable max age
// and everything else the short one.
func setCacheControl(h http.Header, attrs *arweave.DataAttributes, name *arns.Resolution) {
	cfg := params.Gateway()
	if name != nil {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", nameTTL(name)))
		return
	}
	if attrs != nil && attrs.Stable {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", cfg.StableDataMaxAge))
		return
	}
	h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", cfg.UnstableDataMaxAge))
}

func nameTTL(name *arns.Resolution) uint64 {
	if name.TTLSeconds > 0 {
		return name.TTLSeconds
	}
	return uint64(params.Gateway().NameResolveTTL / time.Second)
}

func etagFor(hash []byte) string {
	return `"` + hex.EncodeToString(hash) + `"`
}

// etagMatches implements the If-None-Match comparison for strong tags.
func etagMatches(header, etag string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

func contentTypeFor(data *arweave.ContiguousData, attrs *arweave.DataAttributes) string {
	if data != nil && data.SourceContentType != "" {
		return data.SourceContentType
	}
	if attrs != nil && attrs.ContentType != "" {
		return attrs.ContentType
	}
	return "application/octet-stream"
}

// lookupAttributes consults the attribute index, treating every
// failure as an unknown payload.
func (s *Service) lookupAttributes(ctx context.Context, id arweave.ID) *arweave.DataAttributes {
	if s.cfg.Attributes == nil {
		return nil
	}
	attrs, err := s.cfg.Attributes.DataAttributes(ctx, id)
	if err != nil {
		log.WithError(err).Debug("Attribute lookup failed")
		return nil
	}
	return attrs
}

func (s *Service) isBlocked(id arweave.ID) bool {
	return s.cfg.Blocklist != nil && s.cfg.Blocklist.IsIDBlocked(id)
}

func closeData(data *arweave.ContiguousData) {
	if data == nil || data.Stream == nil {
		return
	}
	if err := data.Stream.Close(); err != nil {
		log.WithError(err).Debug("Failed to close data stream")
	}
}

// clientIPs lists the caller addresses, forwarded entries first.
func clientIPs(r *http.Request) []string {
	var ips []string
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, p := range strings.Split(fwd, ",") {
			if p = strings.TrimSpace(p); p != "" {
				ips = append(ips, p)
			}
		}
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		ips = append(ips, ip)
	}
	return ips
}
