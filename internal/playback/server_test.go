package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func serve(t *testing.T, method, path, rangeHeader string, kind Kind) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/artifact", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	rr := httptest.NewRecorder()
	if err := NewServer(nil).ServeArtifact(rr, req, path, kind); err != nil {
		t.Fatalf("ServeArtifact() error = %v", err)
	}
	return rr
}

func TestServeArtifact_Full(t *testing.T) {
	path := writeArtifact(t, "aaaaaaaaaaaaaaaa.csv", "frame_index,timestamp_ns,synthesized\n0,1000,false\n")

	rr := serve(t, http.MethodGet, path, "", KindSidecar)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Error("Accept-Ranges missing")
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `inline; filename="aaaaaaaaaaaaaaaa.csv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rr.Body.String() != "frame_index,timestamp_ns,synthesized\n0,1000,false\n" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestServeArtifact_Partial(t *testing.T) {
	path := writeArtifact(t, "a.mp4", "0123456789")

	rr := serve(t, http.MethodGet, path, "bytes=2-5", KindVideo)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "2345" {
		t.Errorf("body = %q", rr.Body.String())
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", cr)
	}
	if rr.Header().Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}
}

func TestServeArtifact_Unsatisfiable(t *testing.T) {
	path := writeArtifact(t, "a.mp4", "0123456789")

	rr := serve(t, http.MethodGet, path, "bytes=20-", KindVideo)

	if rr.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d", rr.Code)
	}
	if cr := rr.Header().Get("Content-Range"); cr != "bytes */10" {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestServeArtifact_MalformedRangeSendsAll(t *testing.T) {
	path := writeArtifact(t, "a.mp4", "0123456789")

	rr := serve(t, http.MethodGet, path, "pages=1", KindVideo)

	if rr.Code != http.StatusOK || rr.Body.Len() != 10 {
		t.Errorf("status = %d, body length = %d", rr.Code, rr.Body.Len())
	}
}

func TestServeArtifact_Head(t *testing.T) {
	path := writeArtifact(t, "a.mp4", "0123456789")

	rr := serve(t, http.MethodHead, path, "", KindVideo)

	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("status = %d, body length = %d", rr.Code, rr.Body.Len())
	}
	if rr.Header().Get("Content-Length") != "10" {
		t.Errorf("Content-Length = %q", rr.Header().Get("Content-Length"))
	}
}

func TestServeArtifact_Missing(t *testing.T) {
	rr := serve(t, http.MethodGet, filepath.Join(t.TempDir(), "gone.mp4"), "", KindVideo)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}

	rr = serve(t, http.MethodGet, t.TempDir(), "", KindVideo)
	if rr.Code != http.StatusNotFound {
		t.Errorf("directory status = %d, want 404", rr.Code)
	}
}

func TestKind_ContentType(t *testing.T) {
	if KindEDL.ContentType() != "text/plain; charset=utf-8" {
		t.Errorf("edl = %q", KindEDL.ContentType())
	}
	if Kind("other").ContentType() != "application/octet-stream" {
		t.Errorf("unknown = %q", Kind("other").ContentType())
	}
}
