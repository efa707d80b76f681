package signer

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"go.mozilla.org/pkcs7"
)

// Signature entries written by SignV1.
const (
	ManifestPath       = "META-INF/MANIFEST.MF"
	SignatureFilePath  = "META-INF/CERT.SF"
	SignatureBlockPath = "META-INF/CERT.RSA"
)

// maxLineLength is the JAR manifest line limit in bytes, excluding CRLF.
const maxLineLength = 72

// ErrNotSigned is returned when an archive lacks the expected signature.
var ErrNotSigned = errors.New("archive is not signed")

// ErrDigestMismatch is returned when a signed digest does not match.
var ErrDigestMismatch = errors.New("signature digest mismatch")

// Archive is the part of the working archive the v1 signer touches.
type Archive interface {
	Names() []string
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	Remove(name string) bool
}

// V1Options controls the JAR signature.
type V1Options struct {
	// CreatedBy is written to the main attributes.
	CreatedBy string
	// V2Follows marks the signature file so verifiers reject stripping of
	// the v2 signature.
	V2Follows bool
}

// IsSignatureEntry reports whether name belongs to a JAR signature.
func IsSignatureEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") || strings.Count(name, "/") != 1 {
		return false
	}
	if name == ManifestPath {
		return true
	}
	switch strings.ToUpper(path.Ext(name)) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}

// StripSignatures removes every JAR signature entry and returns their names.
func StripSignatures(a Archive) []string {
	var removed []string
	for _, n := range a.Names() {
		if IsSignatureEntry(n) && a.Remove(n) {
			removed = append(removed, n)
		}
	}
	return removed
}

// manifest is a serialized JAR manifest with its section boundaries.
type manifest struct {
	main     []byte
	sections []section
}

type section struct {
	name string
	raw  []byte
}

func (m *manifest) bytes() []byte {
	var buf bytes.Buffer
	buf.Write(m.main)
	for _, s := range m.sections {
		buf.Write(s.raw)
	}
	return buf.Bytes()
}

// writeAttr writes "key: value" wrapped at 72 bytes with continuation lines
// starting with a space.
func writeAttr(buf *bytes.Buffer, key, value string) {
	line := key + ": " + value
	limit := maxLineLength
	for len(line) > limit {
		buf.WriteString(line[:limit])
		buf.WriteString("\r\n ")
		line = line[limit:]
		limit = maxLineLength - 1
	}
	buf.WriteString(line)
	buf.WriteString("\r\n")
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func entrySection(name, dig string) []byte {
	var buf bytes.Buffer
	writeAttr(&buf, "Name", name)
	writeAttr(&buf, "SHA-256-Digest", dig)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// buildManifest digests every non-signature entry in name order.
func buildManifest(a Archive, createdBy string) (*manifest, error) {
	var main bytes.Buffer
	writeAttr(&main, "Manifest-Version", "1.0")
	writeAttr(&main, "Created-By", createdBy)
	main.WriteString("\r\n")

	m := &manifest{main: main.Bytes()}
	names := slices.Clone(a.Names())
	slices.Sort(names)
	for _, n := range names {
		if IsSignatureEntry(n) || strings.HasSuffix(n, "/") {
			continue
		}
		b, err := a.ReadFile(n)
		if err != nil {
			return nil, err
		}
		m.sections = append(m.sections, section{name: n, raw: entrySection(n, digest(b))})
	}
	return m, nil
}

// signatureFile builds CERT.SF for m. Section digests cover each manifest
// section's exact bytes.
func signatureFile(m *manifest, opts V1Options) []byte {
	var buf bytes.Buffer
	writeAttr(&buf, "Signature-Version", "1.0")
	writeAttr(&buf, "Created-By", opts.CreatedBy)
	writeAttr(&buf, "SHA-256-Digest-Manifest", digest(m.bytes()))
	writeAttr(&buf, "SHA-256-Digest-Manifest-Main-Attributes", digest(m.main))
	if opts.V2Follows {
		writeAttr(&buf, "X-Android-APK-Signed", "2")
	}
	buf.WriteString("\r\n")
	for _, s := range m.sections {
		buf.Write(entrySection(s.name, digest(s.raw)))
	}
	return buf.Bytes()
}

// SignV1 replaces any JAR signature in a with a new one made by id.
// Apart from CERT.RSA the output is deterministic for identical content.
func SignV1(a Archive, id *Identity, opts V1Options) error {
	if opts.CreatedBy == "" {
		opts.CreatedBy = DefaultSubject
	}
	StripSignatures(a)
	m, err := buildManifest(a, opts.CreatedBy)
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	sf := signatureFile(m, opts)

	sd, err := pkcs7.NewSignedData(sf)
	if err != nil {
		return fmt.Errorf("pkcs7: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(id.Certificate, id.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return fmt.Errorf("pkcs7 signer: %w", err)
	}
	sd.Detach()
	block, err := sd.Finish()
	if err != nil {
		return fmt.Errorf("pkcs7 finish: %w", err)
	}

	for _, f := range []struct {
		name string
		data []byte
	}{
		{ManifestPath, m.bytes()},
		{SignatureFilePath, sf},
		{SignatureBlockPath, block},
	} {
		if err := a.WriteFile(f.name, f.data); err != nil {
			return err
		}
	}
	return nil
}

// parsedSection is one manifest or signature file section.
type parsedSection struct {
	attrs map[string]string
	raw   []byte
}

// parseSections splits a manifest into sections, unwrapping continuation
// lines. The first section holds the main attributes.
func parseSections(b []byte) []parsedSection {
	var out []parsedSection
	for len(b) > 0 {
		end := bytes.Index(b, []byte("\r\n\r\n"))
		n := end + 4
		if end < 0 {
			n = len(b)
		}
		raw := b[:n]
		b = b[n:]
		text := strings.ReplaceAll(string(raw), "\r\n ", "")
		attrs := make(map[string]string)
		for _, line := range strings.Split(text, "\r\n") {
			if k, v, ok := strings.Cut(line, ": "); ok {
				attrs[k] = v
			}
		}
		out = append(out, parsedSection{attrs: attrs, raw: raw})
	}
	return out
}

// VerifyV1 checks the JAR signature written by SignV1 and returns the
// signing certificate.
func VerifyV1(a Archive) (*x509.Certificate, error) {
	mf, err := a.ReadFile(ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSigned, err)
	}
	sf, err := a.ReadFile(SignatureFilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSigned, err)
	}
	block, err := a.ReadFile(SignatureBlockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSigned, err)
	}

	p7, err := pkcs7.Parse(block)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", SignatureBlockPath, err)
	}
	p7.Content = sf
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("verify %s: %w", SignatureBlockPath, err)
	}

	sfSections := parseSections(sf)
	if len(sfSections) == 0 || sfSections[0].attrs["SHA-256-Digest-Manifest"] != digest(mf) {
		return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, ManifestPath)
	}
	mfSections := parseSections(mf)
	if len(mfSections) == 0 {
		return nil, fmt.Errorf("%w: empty %s", ErrNotSigned, ManifestPath)
	}
	byName := make(map[string]parsedSection, len(mfSections))
	for _, s := range mfSections[1:] {
		byName[s.attrs["Name"]] = s
	}
	for _, s := range sfSections[1:] {
		name := s.attrs["Name"]
		ms, ok := byName[name]
		if !ok || s.attrs["SHA-256-Digest"] != digest(ms.raw) {
			return nil, fmt.Errorf("%w: section %s", ErrDigestMismatch, name)
		}
	}

	for _, n := range a.Names() {
		if IsSignatureEntry(n) {
			continue
		}
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not in the manifest", ErrDigestMismatch, n)
		}
		b, err := a.ReadFile(n)
		if err != nil {
			return nil, err
		}
		if s.attrs["SHA-256-Digest"] != digest(b) {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, n)
		}
	}
	return p7.GetOnlySigner(), nil
}
