package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeBackend is a scripted IPFSBackend.
type fakeBackend struct {
	content map[string][]byte
	catErr  error
	added   [][]byte
}

func (f *fakeBackend) Cat(ctx context.Context, cid string) ([]byte, error) {
	if f.catErr != nil {
		return nil, f.catErr
	}
	data, ok := f.content[cid]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeBackend) Add(ctx context.Context, data []byte) (string, error) {
	f.added = append(f.added, data)
	return "QmAdded", nil
}

func TestFetchIPFSViaNode(t *testing.T) {
	c := &Client{ipfs: &fakeBackend{content: map[string][]byte{"QmTest": []byte("payload")}}}
	data, err := c.Fetch(context.Background(), "ipfs://QmTest")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
}

func TestFetchIPFSGatewayFallback(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/QmTest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("from-gateway"))
	}))
	defer gw.Close()

	c := &Client{
		ipfs:    &fakeBackend{catErr: errors.New("node down")},
		gateway: gw.URL,
		http:    gw.Client(),
	}
	data, err := c.Fetch(context.Background(), "ipfs://QmTest")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "from-gateway" {
		t.Errorf("data = %q", data)
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("direct"))
	}))
	defer srv.Close()

	c := &Client{http: srv.Client()}
	data, err := c.Fetch(context.Background(), srv.URL+"/input.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "direct" {
		t.Errorf("data = %q", data)
	}
}

func TestFetchHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{http: srv.Client()}
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("404 accepted")
	}
}

func TestFetchUnsupportedScheme(t *testing.T) {
	c := &Client{}
	if _, err := c.Fetch(context.Background(), "ftp://host/x"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("err = %v, want ErrUnsupportedScheme", err)
	}
}

func TestUploadJSON(t *testing.T) {
	fb := &fakeBackend{}
	c := &Client{ipfs: fb}
	uri, err := c.UploadJSON(context.Background(), map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if uri != "ipfs://QmAdded" {
		t.Errorf("uri = %q", uri)
	}
	if len(fb.added) != 1 || string(fb.added[0]) != `{"k":"v"}` {
		t.Errorf("added = %q", fb.added)
	}
}

func TestUploadJSONWithoutNode(t *testing.T) {
	c := &Client{}
	if _, err := c.UploadJSON(context.Background(), "x"); err == nil {
		t.Fatal("upload without node accepted")
	}
}

func TestFormatCID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ipfs://QmTest", "QmTest"},
		{"QmBare", "QmBare"},
		{"ipfs://Qm/../../etc", "Qmetc"},
	}
	for _, c := range cases {
		if got := formatCID(c.in); got != c.want {
			t.Errorf("formatCID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
