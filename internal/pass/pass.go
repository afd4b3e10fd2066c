package pass

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.mozilla.org/pkcs7"
)

// Producer returns the bytes of a downloadable wallet pass, optionally
// personalized with the holder's display name.
type Producer interface {
	Produce(holderName string) ([]byte, error)
}

// Config locates the signing material and static assets for pkpass assembly.
type Config struct {
	CertPath    string
	KeyPath     string
	AssetDir    string // icon.png and friends, copied into the bundle verbatim
	OrgName     string
	PassTypeID  string
	TeamID      string
	Description string
}

// PKPassProducer assembles and signs Apple Wallet pass bundles: pass.json,
// a SHA-1 manifest over every file, and a detached PKCS#7 signature of the
// manifest, zipped together.
type PKPassProducer struct {
	cfg  Config
	cert *x509.Certificate
	key  any
}

var _ Producer = (*PKPassProducer)(nil)

// NewPKPassProducer loads the signing certificate and key up front so a bad
// path or unparsable PEM fails at startup, not on the first download.
func NewPKPassProducer(cfg Config) (*PKPassProducer, error) {
	cert, err := loadCertificate(cfg.CertPath)
	if err != nil {
		return nil, fmt.Errorf("load pass certificate: %w", err)
	}
	key, err := loadPrivateKey(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load pass signing key: %w", err)
	}
	return &PKPassProducer{cfg: cfg, cert: cert, key: key}, nil
}

// Produce assembles a signed .pkpass bundle. Each call mints a fresh serial
// number, so repeated downloads against one credential yield distinct passes.
func (p *PKPassProducer) Produce(holderName string) ([]byte, error) {
	files := map[string][]byte{}

	entries, err := os.ReadDir(p.cfg.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("read asset dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.cfg.AssetDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read asset %s: %w", e.Name(), err)
		}
		files[e.Name()] = data
	}

	passJSON, err := p.passJSON(holderName)
	if err != nil {
		return nil, err
	}
	files["pass.json"] = passJSON

	manifest, err := buildManifest(files)
	if err != nil {
		return nil, err
	}
	files["manifest.json"] = manifest

	signature, err := p.signManifest(manifest)
	if err != nil {
		return nil, err
	}
	files["signature"] = signature

	return zipBundle(files)
}

type passField struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type passFields struct {
	PrimaryFields []passField `json:"primaryFields,omitempty"`
}

type passFile struct {
	FormatVersion      int         `json:"formatVersion"`
	PassTypeIdentifier string      `json:"passTypeIdentifier"`
	SerialNumber       string      `json:"serialNumber"`
	TeamIdentifier     string      `json:"teamIdentifier"`
	OrganizationName   string      `json:"organizationName"`
	Description        string      `json:"description"`
	Generic            *passFields `json:"generic"`
}

func (p *PKPassProducer) passJSON(holderName string) ([]byte, error) {
	generic := &passFields{}
	if name := sanitizeHolder(holderName); name != "" {
		generic.PrimaryFields = append(generic.PrimaryFields, passField{
			Key:   "holder",
			Label: "Holder",
			Value: name,
		})
	}

	data, err := json.Marshal(passFile{
		FormatVersion:      1,
		PassTypeIdentifier: p.cfg.PassTypeID,
		SerialNumber:       uuid.NewString(),
		TeamIdentifier:     p.cfg.TeamID,
		OrganizationName:   p.cfg.OrgName,
		Description:        p.cfg.Description,
		Generic:            generic,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal pass.json: %w", err)
	}
	return data, nil
}

// buildManifest maps each bundle file to the hex SHA-1 of its content.
// Wallet still expects SHA-1 here; this is the pkpass format, not a choice.
func buildManifest(files map[string][]byte) ([]byte, error) {
	sums := make(map[string]string, len(files))
	for name, data := range files {
		sum := sha1.Sum(data)
		sums[name] = hex.EncodeToString(sum[:])
	}
	data, err := json.Marshal(sums)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

func (p *PKPassProducer) signManifest(manifest []byte) ([]byte, error) {
	signed, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, fmt.Errorf("init signed data: %w", err)
	}
	if err := signed.AddSigner(p.cert, p.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("add signer: %w", err)
	}
	signed.Detach()
	sig, err := signed.Finish()
	if err != nil {
		return nil, fmt.Errorf("finish signature: %w", err)
	}
	return sig, nil
}

func zipBundle(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := f.Write(files[name]); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

const maxHolderLen = 64

// sanitizeHolder trims, strips control characters, and caps the name that
// ends up printed on the pass.
func sanitizeHolder(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > maxHolderLen {
		name = string(runes[:maxHolderLen])
	}
	return name
}

func loadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no CERTIFICATE block in PEM file")
	}
	return x509.ParseCertificate(block.Bytes)
}

func loadPrivateKey(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block in key file")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("key is neither PKCS#8 nor PKCS#1")
}
