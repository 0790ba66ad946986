package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"obsstore/internal/blob/blobtest"
	"obsstore/internal/blob/core"
)

const testBucket = "archive"

type fakeObject struct {
	body            []byte
	contentType     string
	contentEncoding string
	metadata        map[string]string
	modified        time.Time
}

func (o fakeObject) etag() string {
	sum := md5.Sum(o.body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// fakeS3 answers the path-style subset of the S3 REST API the store uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(req.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != testBucket {
		return respond(req, http.StatusNotFound, nil, errorXML("NoSuchBucket")), nil
	}
	switch {
	case req.Method == http.MethodGet && key == "" && req.URL.Query().Get("list-type") == "2":
		return f.list(req), nil
	case req.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(req, http.StatusNotFound, nil, ""), nil
		}
		return respond(req, http.StatusOK, objectHeaders(obj), ""), nil
	case req.Method == http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(req, http.StatusNotFound, nil, errorXML("NoSuchKey")), nil
		}
		return respond(req, http.StatusOK, objectHeaders(obj), string(obj.body)), nil
	case req.Method == http.MethodPut:
		if _, ok := f.objects[key]; ok && req.Header.Get("If-None-Match") == "*" {
			return respond(req, http.StatusPreconditionFailed, nil, errorXML("PreconditionFailed")), nil
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		obj := fakeObject{
			body:            body,
			contentType:     req.Header.Get("Content-Type"),
			contentEncoding: req.Header.Get("Content-Encoding"),
			metadata:        map[string]string{},
			modified:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		}
		for name, values := range req.Header {
			if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
				obj.metadata[strings.ToLower(name[len("x-amz-meta-"):])] = values[0]
			}
		}
		f.objects[key] = obj
		f.puts++
		return respond(req, http.StatusOK, http.Header{"Etag": {obj.etag()}}, ""), nil
	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return respond(req, http.StatusNoContent, nil, ""), nil
	}
	return respond(req, http.StatusMethodNotAllowed, nil, errorXML("MethodNotAllowed")), nil
}

func (f *fakeS3) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>", testBucket, prefix, len(keys))
	for _, k := range keys {
		obj := f.objects[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>%s</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), "&quot;"+strings.Trim(obj.etag(), `"`)+"&quot;", obj.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(req, http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, b.String())
}

func objectHeaders(obj fakeObject) http.Header {
	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("Etag", obj.etag())
	h.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	if obj.contentType != "" {
		h.Set("Content-Type", obj.contentType)
	}
	if obj.contentEncoding != "" {
		h.Set("Content-Encoding", obj.contentEncoding)
	}
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func errorXML(code string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + code + `</Code><Message>` + code + `</Message></Error>`
}

func respond(req *http.Request, status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	length := int64(len(body))
	if req.Method == http.MethodHead {
		if v := header.Get("Content-Length"); v != "" {
			length, _ = strconv.ParseInt(v, 10, 64)
		}
		body = ""
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: length,
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

func newTestStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", t.TempDir()+"/config")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", t.TempDir()+"/credentials")
	s, err := New(context.Background(), Config{
		Bucket:          testBucket,
		Region:          "eu-west-1",
		Endpoint:        "http://fake.s3.local",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: fake},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	blobtest.Run(t, func(t *testing.T) core.Store { return newTestStore(t, newFakeS3()) })
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestPutRaceMapsPreconditionToExists(t *testing.T) {
	fake := newFakeS3()
	s := newTestStore(t, fake)
	// Object appears between the existence check and the upload.
	fake.mu.Lock()
	fake.objects["raced"] = fakeObject{body: []byte("other")}
	fake.mu.Unlock()
	_, err := s.Put(context.Background(), "raced", bytes.NewReader([]byte("mine")), core.PutOptions{})
	if !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if fake.puts != 0 {
		t.Fatalf("expected no upload, got %d", fake.puts)
	}
}

func TestPresignURL(t *testing.T) {
	s := newTestStore(t, newFakeS3())
	if s.Bucket() != testBucket || s.Driver() != core.DriverS3 {
		t.Fatalf("unexpected store identity %s %s", s.Bucket(), s.Driver())
	}
	u, err := s.PresignURL(context.Background(), "series/1.csv", core.SignedURLOptions{Expiry: time.Minute})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(u, "http://fake.s3.local/archive/series/1.csv?") || !strings.Contains(u, "X-Amz-Expires=60") {
		t.Fatalf("unexpected presigned url %s", u)
	}
	if _, err := s.PresignURL(context.Background(), "k", core.SignedURLOptions{Method: http.MethodPut}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
