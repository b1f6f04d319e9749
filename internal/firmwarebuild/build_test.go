package firmwarebuild

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vtscanister/vts/internal/vts"
)

type fakeUploader struct {
	mu         sync.Mutex
	pending    []vts.Principal
	uploaded   []uploadCall
	failPoll   bool
	failUpload bool
}

type uploadCall struct {
	customer  vts.Principal
	publicKey []byte
	arch      string
	firmware  []byte
}

func (f *fakeUploader) GetFirmwareRequests(ctx context.Context, caller vts.Principal) (vts.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPoll || len(f.pending) == 0 {
		return vts.Principal{}, vts.NewError(vts.ErrNotFound, "no pending requests")
	}
	c := f.pending[0]
	f.pending = f.pending[1:]
	return c, nil
}

func (f *fakeUploader) UploadFirmware(ctx context.Context, caller, customer vts.Principal, publicKey []byte, arch string, firmware []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return vts.NewError(vts.ErrInternal, "upload failed")
	}
	f.uploaded = append(f.uploaded, uploadCall{customer: customer, publicKey: publicKey, arch: arch, firmware: firmware})
	return nil
}

func TestBuildImageEmbedsIdentity(t *testing.T) {
	identity := vts.Principal{1, 2, 3}
	image, err := BuildImage(identity, []byte("secret-key-bytes"), "arm64")
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	if !bytes.Contains(image, []byte(identity.String())) {
		t.Fatalf("image does not embed identity")
	}
	if !bytes.Contains(image, []byte("arm64")) {
		t.Fatalf("image does not embed arch")
	}
	if !bytes.Contains(image, []byte("secret-key-bytes")) {
		t.Fatalf("image does not embed private key material")
	}
}

func TestArchiveImageProducesReadableTarGz(t *testing.T) {
	image, err := BuildImage(vts.Principal{9}, []byte("k"), "amd64")
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	archive, err := ArchiveImage(image)
	if err != nil {
		t.Fatalf("ArchiveImage: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("tar.Next: %v", err)
	}
	if hdr.Name != "firmware.bin" {
		t.Fatalf("tar entry name = %q, want firmware.bin", hdr.Name)
	}
	got, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("reading tar body: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("archived body does not match original image")
	}
}

func TestUnpackImageReversesArchiveImage(t *testing.T) {
	identity := vts.Principal{4, 5, 6}
	image, err := BuildImage(identity, []byte("the-key"), "riscv64")
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	archive, err := ArchiveImage(image)
	if err != nil {
		t.Fatalf("ArchiveImage: %v", err)
	}

	gotIdentity, gotArch, gotKey, err := UnpackImage(archive)
	if err != nil {
		t.Fatalf("UnpackImage: %v", err)
	}
	if gotIdentity != identity {
		t.Fatalf("identity = %v, want %v", gotIdentity, identity)
	}
	if gotArch != "riscv64" {
		t.Fatalf("arch = %q, want riscv64", gotArch)
	}
	if string(gotKey) != "the-key" {
		t.Fatalf("key = %q, want the-key", gotKey)
	}
}

func TestUnpackImageRejectsGarbage(t *testing.T) {
	if _, _, _, err := UnpackImage([]byte("not a gzip archive")); err == nil {
		t.Fatal("expected error unpacking garbage")
	}
}

func TestPollerUploadsOnPendingRequest(t *testing.T) {
	uploader := &fakeUploader{pending: []vts.Principal{{7, 7, 7}}}
	self := vts.Principal{5}
	dir := t.TempDir()

	p := NewPoller(uploader, self, "arm64", dir, 10*time.Millisecond)
	go p.Run()
	t.Cleanup(p.Stop)

	deadline := time.After(2 * time.Second)
	for {
		uploader.mu.Lock()
		n := len(uploader.uploaded)
		uploader.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for firmware upload")
		case <-time.After(5 * time.Millisecond):
		}
	}

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if len(uploader.uploaded) != 1 {
		t.Fatalf("uploaded count = %d, want 1", len(uploader.uploaded))
	}
	call := uploader.uploaded[0]
	if call.customer != (vts.Principal{7, 7, 7}) {
		t.Fatalf("uploaded for wrong customer: %v", call.customer)
	}
	if call.arch != "arm64" {
		t.Fatalf("arch = %q, want arm64", call.arch)
	}
	if len(call.publicKey) == 0 || len(call.firmware) == 0 {
		t.Fatalf("upload call missing public key or firmware bytes")
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.tar.gz"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("archive files in dir = %d, want 1", len(matches))
	}
}

func TestPollerIdlesWithoutPendingRequests(t *testing.T) {
	uploader := &fakeUploader{}
	p := NewPoller(uploader, vts.Principal{1}, "amd64", "", 5*time.Millisecond)
	go p.Run()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if len(uploader.uploaded) != 0 {
		t.Fatalf("expected no uploads, got %d", len(uploader.uploaded))
	}
}
