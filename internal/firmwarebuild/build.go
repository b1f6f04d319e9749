// Package firmwarebuild drives the gateway's recurring firmware-request
// poll: on finding an outstanding request it derives a fresh vehicle
// keypair, builds a firmware image embedding that identity, archives it,
// and uploads it to the canister. The image itself is not signed.
package firmwarebuild

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vtscanister/vts/internal/vts"
	"github.com/vtscanister/vts/internal/vtscrypto"
)

// Uploader is the canister call the poll loop drives; rpcclient.Client
// satisfies it.
type Uploader interface {
	GetFirmwareRequests(ctx context.Context, caller vts.Principal) (vts.Principal, error)
	UploadFirmware(ctx context.Context, caller, customer vts.Principal, publicKey []byte, arch string, firmware []byte) error
}

// Poller runs the 1-second firmware-request drain loop.
type Poller struct {
	uploader   Uploader
	self       vts.Principal
	arch       string
	archiveDir string
	interval   time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewPoller returns a Poller that authenticates to the canister as self (the
// gateway's own allow-listed principal) and writes built archives under
// archiveDir.
func NewPoller(uploader Uploader, self vts.Principal, arch, archiveDir string, interval time.Duration) *Poller {
	return &Poller{
		uploader:   uploader,
		self:       self,
		arch:       arch,
		archiveDir: archiveDir,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run blocks, polling until Stop is called.
func (p *Poller) Run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// Stop signals Run to return and waits for it to do so.
func (p *Poller) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Poller) pollOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	customer, err := p.uploader.GetFirmwareRequests(ctx, p.self)
	if err != nil {
		if vts.KindOf(err) != vts.ErrNotFound {
			logrus.WithError(err).Warn("firmwarebuild: polling firmware requests failed")
		}
		return
	}

	priv, err := vtscrypto.GenerateKey()
	if err != nil {
		logrus.WithError(err).Error("firmwarebuild: key generation failed")
		return
	}
	der, err := vtscrypto.EncodeDERPublicKey(priv.PubKey())
	if err != nil {
		logrus.WithError(err).Error("firmwarebuild: public key encoding failed")
		return
	}
	identity := vts.SelfAuthenticatingPrincipal(der)

	image, err := BuildImage(identity, priv.Serialize(), p.arch)
	if err != nil {
		logrus.WithError(err).Error("firmwarebuild: image build failed")
		return
	}
	archive, err := ArchiveImage(image)
	if err != nil {
		logrus.WithError(err).Error("firmwarebuild: archiving failed")
		return
	}
	if p.archiveDir != "" {
		if err := writeArchiveCopy(p.archiveDir, identity, archive); err != nil {
			logrus.WithError(err).Warn("firmwarebuild: failed to persist archive copy")
		}
	}

	if err := p.uploader.UploadFirmware(ctx, p.self, customer, der, p.arch, archive); err != nil {
		logrus.WithError(err).WithField("customer", customer.String()).Error("firmwarebuild: upload failed")
		return
	}
	logrus.WithFields(logrus.Fields{"customer": customer.String(), "vehicle": identity.String()}).Info("firmwarebuild: firmware uploaded")
}

// image is the in-memory layout of a built firmware binary: a small header
// naming the embedded identity and architecture, followed by the private key
// material firmware uses to sign telemetry.
type image struct {
	Identity   vts.Principal
	Arch       string
	PrivateKey []byte
}

// BuildImage assembles the firmware image embedding identity: this stands in
// for the out-of-scope build toolchain, producing a self-describing blob the
// firmware binary reads its own signing key and architecture tag from.
func BuildImage(identity vts.Principal, privateKey []byte, arch string) ([]byte, error) {
	img := image{Identity: identity, Arch: arch, PrivateKey: privateKey}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "vts-firmware\narch=%s\nidentity=%s\n", img.Arch, img.Identity.String())
	buf.Write(img.PrivateKey)
	return buf.Bytes(), nil
}

// ArchiveImage wraps image in a gzip-compressed tar archive, the form
// uploaded to the canister and unpacked by the vehicle on first boot.
func ArchiveImage(image []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{Name: "firmware.bin", Mode: 0o644, Size: int64(len(image))}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("firmwarebuild: writing tar header: %w", err)
	}
	if _, err := tw.Write(image); err != nil {
		return nil, fmt.Errorf("firmwarebuild: writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("firmwarebuild: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("firmwarebuild: closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnpackImage reverses ArchiveImage and BuildImage, the form a vehicle uses
// to recover its own signing key and architecture tag from a flashed
// firmware archive.
func UnpackImage(archive []byte) (identity vts.Principal, arch string, privateKey []byte, err error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return vts.Principal{}, "", nil, fmt.Errorf("firmwarebuild: opening gzip: %w", err)
	}
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		return vts.Principal{}, "", nil, fmt.Errorf("firmwarebuild: reading tar header: %w", err)
	}
	if hdr.Name != "firmware.bin" {
		return vts.Principal{}, "", nil, fmt.Errorf("firmwarebuild: unexpected tar entry %q", hdr.Name)
	}
	image := make([]byte, hdr.Size)
	if _, err := io.ReadFull(tr, image); err != nil {
		return vts.Principal{}, "", nil, fmt.Errorf("firmwarebuild: reading tar body: %w", err)
	}
	return parseImage(image)
}

func parseImage(image []byte) (identity vts.Principal, arch string, privateKey []byte, err error) {
	lines := bytes.SplitN(image, []byte("\n"), 4)
	if len(lines) < 4 || string(lines[0]) != "vts-firmware" {
		return vts.Principal{}, "", nil, errors.New("firmwarebuild: malformed firmware image header")
	}
	archLine := string(lines[1])
	identityLine := string(lines[2])
	const archPrefix, identityPrefix = "arch=", "identity="
	if len(archLine) <= len(archPrefix) || archLine[:len(archPrefix)] != archPrefix {
		return vts.Principal{}, "", nil, errors.New("firmwarebuild: missing arch header")
	}
	if len(identityLine) <= len(identityPrefix) || identityLine[:len(identityPrefix)] != identityPrefix {
		return vts.Principal{}, "", nil, errors.New("firmwarebuild: missing identity header")
	}
	parsed, err := vts.ParsePrincipal(identityLine[len(identityPrefix):])
	if err != nil {
		return vts.Principal{}, "", nil, fmt.Errorf("firmwarebuild: parsing embedded identity: %w", err)
	}
	return parsed, archLine[len(archPrefix):], lines[3], nil
}

func writeArchiveCopy(dir string, identity vts.Principal, archive []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, identity.String()+".tar.gz")
	return os.WriteFile(path, archive, 0o644)
}
