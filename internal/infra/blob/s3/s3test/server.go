// Package s3test runs a small path-style S3 endpoint for tests. It supports
// GetObject, HeadObject, conditional PutObject and paginated ListObjectsV2.
package s3test

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type object struct {
	body        []byte
	contentType string
	modified    time.Time
}

// Server is an in-memory S3 endpoint. Close it when done.
type Server struct {
	*httptest.Server

	// PageSize caps ListObjectsV2 pages; zero means unlimited.
	PageSize int

	mu      sync.Mutex
	objects map[string]object
	puts    int
}

// NewServer starts a server on a loopback port.
func NewServer() *Server {
	s := &Server{objects: make(map[string]object)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Seed stores an object directly, bypassing the API.
func (s *Server) Seed(bucket, key string, body []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = object{body: body, contentType: contentType, modified: time.Now().UTC()}
}

// Puts reports how many PutObject calls succeeded.
func (s *Server) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		s.list(w, bucket, r)
	case r.Method == http.MethodPut:
		s.put(w, bucket+"/"+key, r)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		obj, ok := s.objects[bucket+"/"+key]
		if !ok {
			writeError(w, r, http.StatusNotFound, "NoSuchKey")
			return
		}
		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(obj.body)))
		h.Set("Content-Type", obj.contentType)
		h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		h.Set("ETag", `"`+strconv.Itoa(len(obj.body))+`"`)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.body)
		}
	default:
		writeError(w, r, http.StatusNotImplemented, "NotImplemented")
	}
}

func (s *Server) put(w http.ResponseWriter, full string, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "IncompleteBody")
		return
	}
	if strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") || r.Header.Get("X-Amz-Decoded-Content-Length") != "" {
		if body, err = decodeChunked(body); err != nil {
			writeError(w, r, http.StatusBadRequest, "InvalidChunk")
			return
		}
	}
	if _, exists := s.objects[full]; exists && r.Header.Get("If-None-Match") == "*" {
		writeError(w, r, http.StatusPreconditionFailed, "PreconditionFailed")
		return
	}
	s.objects[full] = object{body: body, contentType: r.Header.Get("Content-Type"), modified: time.Now().UTC()}
	s.puts++
	w.Header().Set("ETag", `"`+strconv.Itoa(len(body))+`"`)
	w.WriteHeader(http.StatusOK)
}

type listResult struct {
	XMLName               xml.Name  `xml:"ListBucketResult"`
	Name                  string    `xml:"Name"`
	Prefix                string    `xml:"Prefix"`
	KeyCount              int       `xml:"KeyCount"`
	IsTruncated           bool      `xml:"IsTruncated"`
	NextContinuationToken string    `xml:"NextContinuationToken,omitempty"`
	Contents              []content `xml:"Contents"`
}

type content struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

func (s *Server) list(w http.ResponseWriter, bucket string, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	after := q.Get("continuation-token")
	var keys []string
	for full := range s.objects {
		b, k, _ := strings.Cut(full, "/")
		if b == bucket && strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	res := listResult{Name: bucket, Prefix: prefix}
	if s.PageSize > 0 && len(keys) > s.PageSize {
		keys = keys[:s.PageSize]
		res.IsTruncated = true
		res.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := s.objects[bucket+"/"+k]
		res.Contents = append(res.Contents, content{Key: k, Size: int64(len(obj.body)), LastModified: obj.modified.Format("2006-01-02T15:04:05.000Z")})
	}
	res.KeyCount = len(res.Contents)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated, ending with a zero-size chunk and optional trailers.
func decodeChunked(b []byte) ([]byte, error) {
	rd := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, rd, n); err != nil {
			return nil, err
		}
		if _, err := rd.Discard(2); err != nil {
			return nil, err
		}
	}
}
