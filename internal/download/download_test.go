package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newDownloader(t *testing.T, root string, limit int64) *Downloader {
	t.Helper()
	d, err := New(Config{
		StagingRoot:         root,
		SizeLimit:           limit,
		AllowedContentTypes: []string{"application/octet-stream", "image/png"},
	})
	if err != nil {
		t.Fatalf("build downloader: %v", err)
	}
	return d
}

func serveBytes(t *testing.T, body []byte, header map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchWritesFile(t *testing.T) {
	root := t.TempDir()
	srv := serveBytes(t, []byte("payload"), nil)
	d := newDownloader(t, root, 1024)

	path, err := d.Fetch(context.Background(), srv.URL, root, "export.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !filepath.IsAbs(path) {
		t.Fatalf("path %q is not absolute", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("content = %q, want payload", got)
	}
}

func TestFetchFollowsRedirectsTransparently(t *testing.T) {
	root := t.TempDir()
	body := []byte("post-redirect payload")
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		// The redirect response carries its own body; none of it may
		// reach the output file.
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write(body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := newDownloader(t, root, 1024)
	path, err := d.Fetch(context.Background(), srv.URL+"/start", root, "export.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("content = %q, want %q", got, body)
	}
}

func TestFetchSizeLimits(t *testing.T) {
	t.Run("declared length at the limit succeeds", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, make([]byte, 150), nil)
		d := newDownloader(t, root, 150)
		if _, err := d.Fetch(context.Background(), srv.URL, root, "export.bin"); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	})

	t.Run("declared length over the limit fails with both sizes", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, make([]byte, 151), nil)
		d := newDownloader(t, root, 150)
		_, err := d.Fetch(context.Background(), srv.URL, root, "export.bin")
		var sizeErr SizeError
		if !errors.As(err, &sizeErr) {
			t.Fatalf("err = %v, want SizeError", err)
		}
		if !strings.Contains(err.Error(), "151") || !strings.Contains(err.Error(), "150") {
			t.Fatalf("error %q should report both sizes", err)
		}
		if _, statErr := os.Stat(filepath.Join(root, "export.bin")); !os.IsNotExist(statErr) {
			t.Fatal("partial file left behind")
		}
	})

	t.Run("lying response is caught mid-stream", func(t *testing.T) {
		root := t.TempDir()
		d := newDownloader(t, root, 10)
		target := filepath.Join(root, "export.bin")
		err := d.writeBody(target, strings.NewReader(strings.Repeat("x", 100)))
		var sizeErr SizeError
		if !errors.As(err, &sizeErr) {
			t.Fatalf("err = %v, want SizeError", err)
		}
		if sizeErr.Size <= 10 {
			t.Fatalf("reported size %d should be the actual bytes written", sizeErr.Size)
		}
		if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
			t.Fatal("partial file left behind")
		}
	})
}

func TestFetchRejectsMissingContentLength(t *testing.T) {
	root := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		// Flushing before the body forces chunked encoding, dropping
		// the content-length header.
		w.(http.Flusher).Flush()
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	d := newDownloader(t, root, 1024)
	if _, err := d.Fetch(context.Background(), srv.URL, root, "export.bin"); !errors.Is(err, ErrMissingContentLength) {
		t.Fatalf("err = %v, want ErrMissingContentLength", err)
	}
}

func TestFetchRejectsDisallowedContentType(t *testing.T) {
	root := t.TempDir()
	srv := serveBytes(t, []byte("<html>"), map[string]string{"Content-Type": "text/html"})
	d := newDownloader(t, root, 1024)

	_, err := d.Fetch(context.Background(), srv.URL, root, "export.bin")
	var ctErr ContentTypeError
	if !errors.As(err, &ctErr) {
		t.Fatalf("err = %v, want ContentTypeError", err)
	}
	if ctErr.ContentType != "text/html" {
		t.Fatalf("content type = %q, want text/html", ctErr.ContentType)
	}
}

func TestFetchReportsFailureStatus(t *testing.T) {
	root := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := newDownloader(t, root, 1024)
	_, err := d.Fetch(context.Background(), srv.URL, root, "export.bin")
	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", statusErr.Code)
	}
}

func TestFilenameDerivation(t *testing.T) {
	t.Run("traversal components are stripped to the base name", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, []byte("img"), map[string]string{
			"Content-Disposition": `attachment; filename="../../avatar.png"`,
			"Content-Type":        "image/png",
		})
		d := newDownloader(t, root, 1024)
		path, err := d.Fetch(context.Background(), srv.URL, root, "")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if filepath.Base(path) != "avatar.png" {
			t.Fatalf("filename = %q, want avatar.png", filepath.Base(path))
		}
		if filepath.Dir(path) != root {
			t.Fatalf("dir = %q, want %q", filepath.Dir(path), root)
		}
	})

	t.Run("missing content-disposition fails", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, []byte("img"), nil)
		d := newDownloader(t, root, 1024)
		if _, err := d.Fetch(context.Background(), srv.URL, root, ""); !errors.Is(err, ErrMissingFilename) {
			t.Fatalf("err = %v, want ErrMissingFilename", err)
		}
	})

	t.Run("overlong names are truncated keeping the extension", func(t *testing.T) {
		name := strings.Repeat("a", 300) + ".png"
		got := truncateFilename(name, 255)
		if len(got) != 255 {
			t.Fatalf("len = %d, want 255", len(got))
		}
		if !strings.HasSuffix(got, ".png") {
			t.Fatalf("truncated name %q lost its extension", got)
		}
	})
}

func TestFetchPathContainment(t *testing.T) {
	root := t.TempDir()
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()
	d := newDownloader(t, root, 1024)

	cases := map[string]string{
		"outside the root": t.TempDir(),
		"traversal":        filepath.Join(root, "..", "elsewhere"),
	}
	for name, dir := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Fetch(context.Background(), srv.URL, dir, "export.bin")
			var pathErr ErrInvalidPath
			if !errors.As(err, &pathErr) {
				t.Fatalf("err = %v, want ErrInvalidPath", err)
			}
		})
	}
	if requests != 0 {
		t.Fatalf("server saw %d requests, path checks must run first", requests)
	}

	t.Run("filename with separators", func(t *testing.T) {
		_, err := d.Fetch(context.Background(), srv.URL, root, "a/b.bin")
		var pathErr ErrInvalidPath
		if !errors.As(err, &pathErr) {
			t.Fatalf("err = %v, want ErrInvalidPath", err)
		}
	})
}

func TestFetchIntegrityCheck(t *testing.T) {
	t.Run("symlink target is removed", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, []byte("payload"), nil)
		d := newDownloader(t, root, 1024)

		real := filepath.Join(t.TempDir(), "real.bin")
		if err := os.WriteFile(real, nil, 0o600); err != nil {
			t.Fatalf("seed file: %v", err)
		}
		link := filepath.Join(root, "export.bin")
		if err := os.Symlink(real, link); err != nil {
			t.Fatalf("symlink: %v", err)
		}

		if _, err := d.Fetch(context.Background(), srv.URL, root, "export.bin"); !errors.Is(err, ErrInvalidFile) {
			t.Fatalf("err = %v, want ErrInvalidFile", err)
		}
		if _, err := os.Lstat(link); !os.IsNotExist(err) {
			t.Fatal("offending path still exists")
		}
	})

	t.Run("hard-linked target is removed", func(t *testing.T) {
		root := t.TempDir()
		srv := serveBytes(t, []byte("payload"), nil)
		d := newDownloader(t, root, 1024)

		target := filepath.Join(root, "export.bin")
		if err := os.WriteFile(target, nil, 0o600); err != nil {
			t.Fatalf("seed file: %v", err)
		}
		if err := os.Link(target, filepath.Join(root, "alias.bin")); err != nil {
			t.Fatalf("hard link: %v", err)
		}

		if _, err := d.Fetch(context.Background(), srv.URL, root, "export.bin"); !errors.Is(err, ErrInvalidFile) {
			t.Fatalf("err = %v, want ErrInvalidFile", err)
		}
		if _, err := os.Lstat(target); !os.IsNotExist(err) {
			t.Fatal("offending path still exists")
		}
	})
}
