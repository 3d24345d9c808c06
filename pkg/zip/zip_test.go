package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestArchive(t *testing.T) {
	data, err := Archive([]Entry{
		{Filename: "history.json", Modified: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Data: []byte(`{"entries":[]}`)},
		{Filename: "a.png", Data: []byte("one")},
		{Filename: "a.png", Data: []byte("two")},
	})
	if err != nil {
		t.Fatalf("Archive() error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]string{"history.json": `{"entries":[]}`, "a.png": "one", "1-a.png": "two"}
	if len(zr.File) != len(want) {
		t.Fatalf("archive has %d files, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(body) {
			t.Fatalf("%s = %q, want %q", f.Name, body, want[f.Name])
		}
	}
}
