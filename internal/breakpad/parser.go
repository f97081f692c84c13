// Package breakpad decodes Breakpad-format crash submissions. It handles
// multipart/form-data POST bodies, optionally gzip-wrapped, in both the
// classic form-field shape and the JSON "extra" shape.
package breakpad

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/stackwatch/crash-collector/internal/collector"
)

// Rejection reasons returned in the X-Collector-Reason header.
const (
	ReasonNoContentLength = "no_content_length"
	ReasonBadContentType  = "bad_content_type"
	ReasonBadBoundary     = "bad_boundary"
	ReasonBadGzip         = "bad_gzip"
	ReasonNoAnnotations   = "no_annotations"
	ReasonTooLarge        = "too_large"
)

// ParseError is a malformed-request failure with a machine-readable reason.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse payload: %s: %v", e.Reason, e.Err)
	}
	return "parse payload: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(reason string, err error) *ParseError {
	return &ParseError{Reason: reason, Err: err}
}

// Config controls Parser limits and field conventions.
type Config struct {
	// MaxCrashSize bounds the uncompressed payload in bytes.
	MaxCrashSize int64
	// MaxAnnotationSize bounds a single annotation value; longer values are
	// clipped with a note.
	MaxAnnotationSize int
	// DumpField is the conventional name of the main minidump part.
	DumpField string
}

// Parser decodes a submission request into annotations and dumps.
type Parser struct {
	cfg Config
}

// New constructs a Parser, applying defaults for unset limits.
func New(cfg Config) *Parser {
	if cfg.MaxCrashSize <= 0 {
		cfg.MaxCrashSize = 25 << 20
	}
	if cfg.MaxAnnotationSize <= 0 {
		cfg.MaxAnnotationSize = 1 << 20
	}
	if cfg.DumpField == "" {
		cfg.DumpField = collector.MinidumpName
	}
	return &Parser{cfg: cfg}
}

// Payload is the decoded submission before throttling and id assignment.
type Payload struct {
	Annotations collector.Annotations
	Dumps       collector.DumpSet
	Kind        collector.PayloadKind
	Compressed  bool
	Size        int64
	Notes       []string
}

// Parse reads and decodes the request body. Failures return a *ParseError
// whose Reason maps to a 400 response.
func (p *Parser) Parse(req *http.Request) (*Payload, error) {
	if req.ContentLength <= 0 {
		return nil, parseErr(ReasonNoContentLength, nil)
	}

	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, parseErr(ReasonBadContentType, err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, parseErr(ReasonBadBoundary, nil)
	}

	body, err := p.readBody(req)
	if err != nil {
		return nil, err
	}

	compressed := false
	if isGzipEncoded(req.Header.Get("Content-Encoding")) {
		compressed = true
		body, err = p.gunzip(body)
		if err != nil {
			return nil, err
		}
	}

	payload := &Payload{
		Annotations: collector.Annotations{},
		Dumps:       collector.DumpSet{},
		Kind:        collector.PayloadMultipart,
		Compressed:  compressed,
		Size:        int64(len(body)),
	}

	if err := p.walkParts(multipart.NewReader(bytes.NewReader(body), boundary), payload); err != nil {
		return nil, err
	}

	if len(payload.Annotations) == 0 {
		return nil, parseErr(ReasonNoAnnotations, nil)
	}
	return payload, nil
}

func (p *Parser) readBody(req *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(req.Body, p.cfg.MaxCrashSize+1))
	if err != nil {
		return nil, parseErr(ReasonBadBoundary, err)
	}
	if int64(len(data)) > p.cfg.MaxCrashSize {
		return nil, parseErr(ReasonTooLarge, nil)
	}
	return data, nil
}

func (p *Parser) gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, parseErr(ReasonBadGzip, err)
	}
	defer zr.Close() //nolint:errcheck // read errors surface below
	out, err := io.ReadAll(io.LimitReader(zr, p.cfg.MaxCrashSize+1))
	if err != nil {
		return nil, parseErr(ReasonBadGzip, err)
	}
	if int64(len(out)) > p.cfg.MaxCrashSize {
		return nil, parseErr(ReasonTooLarge, nil)
	}
	return out, nil
}

func isGzipEncoded(encoding string) bool {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return true
	}
	return false
}

func (p *Parser) walkParts(reader *multipart.Reader, payload *Payload) error {
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return parseErr(ReasonBadBoundary, err)
		}

		name := part.FormName()
		value, err := io.ReadAll(io.LimitReader(part, p.cfg.MaxCrashSize+1))
		if err != nil {
			return parseErr(ReasonBadBoundary, err)
		}

		switch {
		case name == "dump_checksums":
			// Never trust checksums from a resubmitted crash.
			payload.Notes = append(payload.Notes, "dropped_field:dump_checksums")

		// Some reporters send the dump field with no filename or content
		// type; the configured field name is trusted as binary regardless.
		case part.FileName() != "" || isBinaryPart(part) || name == p.cfg.DumpField:
			p.addDump(payload, name, part.FileName(), value)

		case name == "extra" && looksLikeJSONObject(value):
			if p.addExtraJSON(payload, value) {
				payload.Kind = collector.PayloadJSON
			}

		default:
			p.addAnnotation(payload, name, value)
		}
	}
}

func isBinaryPart(part *multipart.Part) bool {
	return strings.HasPrefix(part.Header.Get("Content-Type"), "application/octet-stream")
}

func looksLikeJSONObject(value []byte) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (p *Parser) addDump(payload *Payload, name, filename string, data []byte) {
	if !validDumpName(name) {
		payload.Notes = append(payload.Notes, "dropped_dump:"+sanitizeNoteName(name))
		return
	}
	payload.Dumps[name] = collector.Dump{Data: data, Filename: filename}
}

// addExtraJSON flattens a JSON "extra" object into annotations. Non-string
// values are re-encoded as compact JSON.
func (p *Parser) addExtraJSON(payload *Payload, value []byte) bool {
	var extra map[string]any
	if err := json.Unmarshal(value, &extra); err != nil {
		payload.Notes = append(payload.Notes, "malformed_extra_json")
		p.addAnnotation(payload, "extra", value)
		return false
	}
	for key, val := range extra {
		switch tv := val.(type) {
		case string:
			p.addAnnotation(payload, key, []byte(tv))
		default:
			encoded, err := json.Marshal(tv)
			if err != nil {
				continue
			}
			p.addAnnotation(payload, key, encoded)
		}
	}
	return true
}

func (p *Parser) addAnnotation(payload *Payload, name string, value []byte) {
	if !validAnnotationName(name) {
		payload.Notes = append(payload.Notes, "dropped_field:"+sanitizeNoteName(name))
		return
	}
	cleaned, truncated := sanitizeValue(value, p.cfg.MaxAnnotationSize)
	if truncated {
		payload.Notes = append(payload.Notes, "truncated:"+name)
	}
	payload.Annotations[name] = cleaned
}

// sanitizeValue strips NUL bytes, replaces invalid UTF-8 sequences, and
// clips the value to max bytes.
func sanitizeValue(value []byte, max int) (string, bool) {
	cleaned := strings.ReplaceAll(string(value), "\x00", "")
	cleaned = strings.ToValidUTF8(cleaned, "�")
	if len(cleaned) > max {
		return cleaned[:max], true
	}
	return cleaned, false
}

func validAnnotationName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !isAlphaNumeric(r) && r != '.' && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// Dump names are constrained to [A-Za-z0-9_].
func validDumpName(name string) bool {
	if name == "" || len(name) > 30 {
		return false
	}
	for _, r := range name {
		if !isAlphaNumeric(r) && r != '_' {
			return false
		}
	}
	return true
}

func isAlphaNumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// sanitizeNoteName makes an untrusted field name safe to record in notes.
func sanitizeNoteName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if isAlphaNumeric(r) || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() > 30 {
		return b.String()[:30]
	}
	return b.String()
}
