package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/modpatch/iox"
)

// algoRSAPKCS1SHA256 is the v2 signature algorithm id for RSASSA-PKCS1-v1_5
// with SHA-256.
const algoRSAPKCS1SHA256 = 0x0103

// digestChunkSize is the v2 content digest chunk size.
const digestChunkSize = 1 << 20

// V2Options controls the signing block.
type V2Options struct {
	// Channel, when set, is stored as a channel pair next to the signature.
	Channel string
}

type channelInfo struct {
	Channel string `json:"channel"`
}

// contentDigest computes the v2 chunked SHA-256 digest over the given
// sections. Chunks never span sections.
func contentDigest(sections ...*io.SectionReader) ([]byte, error) {
	var count uint32
	for _, s := range sections {
		count += uint32((s.Size() + digestChunkSize - 1) / digestChunkSize)
	}
	top := sha256.New()
	top.Write([]byte{0x5a})
	_ = binary.Write(top, binary.LittleEndian, count)

	buf := make([]byte, digestChunkSize)
	prefix := make([]byte, 5)
	prefix[0] = 0xa5
	for _, s := range sections {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		for remaining := s.Size(); remaining > 0; {
			n := min(remaining, digestChunkSize)
			if _, err := io.ReadFull(s, buf[:n]); err != nil {
				return nil, err
			}
			binary.LittleEndian.PutUint32(prefix[1:], uint32(n))
			h := sha256.New()
			h.Write(prefix)
			h.Write(buf[:n])
			top.Write(h.Sum(nil))
			remaining -= n
		}
	}
	return top.Sum(nil), nil
}

// archiveDigest digests the archive as if the signing block were absent:
// entries, central directory and EOCD pointing at blockOffset.
func archiveDigest(r io.ReaderAt, l *layout) ([]byte, error) {
	eocd := l.eocdWithOffset(l.blockOffset)
	return contentDigest(
		io.NewSectionReader(r, 0, l.blockOffset),
		io.NewSectionReader(r, l.cdOffset, l.cdSize),
		io.NewSectionReader(bytes.NewReader(eocd), 0, int64(len(eocd))),
	)
}

// v2Signer builds the signer record for digest.
func v2Signer(id *Identity, dig []byte) ([]byte, error) {
	var digestRec []byte
	digestRec = binary.LittleEndian.AppendUint32(digestRec, algoRSAPKCS1SHA256)
	digestRec = lengthPrefixed(digestRec, dig)

	var signedData []byte
	signedData = lengthPrefixed(signedData, lengthPrefixed(nil, digestRec))
	signedData = lengthPrefixed(signedData, lengthPrefixed(nil, id.Certificate.Raw))
	signedData = lengthPrefixed(signedData, nil)

	sum := sha256.Sum256(signedData)
	sig, err := rsa.SignPKCS1v15(rand.Reader, id.Key, crypto.SHA256, sum[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	var sigRec []byte
	sigRec = binary.LittleEndian.AppendUint32(sigRec, algoRSAPKCS1SHA256)
	sigRec = lengthPrefixed(sigRec, sig)

	spki, err := x509.MarshalPKIXPublicKey(&id.Key.PublicKey)
	if err != nil {
		return nil, err
	}
	var signer []byte
	signer = lengthPrefixed(signer, signedData)
	signer = lengthPrefixed(signer, lengthPrefixed(nil, sigRec))
	signer = lengthPrefixed(signer, spki)
	return lengthPrefixed(nil, lengthPrefixed(nil, signer)), nil
}

// SignV2 inserts an APK Signing Block into the archive at path, replacing
// any existing block. The archive must already be in its final layout.
func SignV2(path string, id *Identity, opts V2Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(f)
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	l, err := readLayout(f, fi.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	dig, err := archiveDigest(f, l)
	if err != nil {
		return fmt.Errorf("digest %s: %w", path, err)
	}
	value, err := v2Signer(id, dig)
	if err != nil {
		return err
	}
	pairs := []idValue{{id: BlockIDV2, value: value}}
	if opts.Channel != "" {
		ch, err := json.Marshal(channelInfo{Channel: opts.Channel})
		if err != nil {
			return err
		}
		pairs = append(pairs, idValue{id: BlockIDChannel, value: ch})
	}
	block := encodeBlock(pairs)

	err = iox.ReplaceFile(path, fi.Mode().Perm(), func(w io.Writer) error {
		return writeSigned(w, f, l, block)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeSigned(w io.Writer, r io.ReaderAt, l *layout, block []byte) error {
	if _, err := io.Copy(w, io.NewSectionReader(r, 0, l.blockOffset)); err != nil {
		return err
	}
	if _, err := w.Write(block); err != nil {
		return err
	}
	if _, err := io.Copy(w, io.NewSectionReader(r, l.cdOffset, l.cdSize)); err != nil {
		return err
	}
	_, err := w.Write(l.eocdWithOffset(l.blockOffset + int64(len(block))))
	return err
}

// VerifyV2 checks the v2 signature of the archive at path and returns the
// signing certificate.
func VerifyV2(path string) (*x509.Certificate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(f)
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	l, err := readLayout(f, fi.Size())
	if err != nil {
		return nil, err
	}
	value, ok := l.pair(BlockIDV2)
	if !ok {
		return nil, fmt.Errorf("%w: no v2 signature", ErrNotSigned)
	}

	signers, _, err := readPrefixed(value)
	if err != nil {
		return nil, err
	}
	signer, _, err := readPrefixed(signers)
	if err != nil {
		return nil, err
	}
	signedData, rest, err := readPrefixed(signer)
	if err != nil {
		return nil, err
	}
	sigs, rest, err := readPrefixed(rest)
	if err != nil {
		return nil, err
	}
	spki, _, err := readPrefixed(rest)
	if err != nil {
		return nil, err
	}

	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key %T", pub)
	}
	sig, err := findAlgorithm(sigs)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(signedData)
	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, sum[:], sig); err != nil {
		return nil, fmt.Errorf("verify signed data: %w", err)
	}

	digests, rest, err := readPrefixed(signedData)
	if err != nil {
		return nil, err
	}
	certs, _, err := readPrefixed(rest)
	if err != nil {
		return nil, err
	}
	want, err := findAlgorithm(digests)
	if err != nil {
		return nil, err
	}
	certDER, _, err := readPrefixed(certs)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	certKey, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok || !certKey.Equal(rsaPub) {
		return nil, fmt.Errorf("certificate does not match signer public key")
	}

	got, err := archiveDigest(f, l)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, want) {
		return nil, fmt.Errorf("%w: archive content", ErrDigestMismatch)
	}
	return cert, nil
}

// findAlgorithm returns the payload of the RSA PKCS#1 SHA-256 record in a
// sequence of (algorithm, length-prefixed bytes) records.
func findAlgorithm(seq []byte) ([]byte, error) {
	for len(seq) > 0 {
		rec, rest, err := readPrefixed(seq)
		if err != nil {
			return nil, err
		}
		seq = rest
		if len(rec) < 4 {
			return nil, formatErr("algorithm record too short")
		}
		if binary.LittleEndian.Uint32(rec) != algoRSAPKCS1SHA256 {
			continue
		}
		v, _, err := readPrefixed(rec[4:])
		return v, err
	}
	return nil, fmt.Errorf("no supported signature algorithm")
}

// ReadChannel returns the channel stored in the signing block, or "" when
// none is present.
func ReadChannel(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	l, err := readLayout(f, fi.Size())
	if err != nil {
		return "", err
	}
	v, ok := l.pair(BlockIDChannel)
	if !ok {
		return "", nil
	}
	var info channelInfo
	if err := json.Unmarshal(v, &info); err != nil {
		return "", fmt.Errorf("channel block: %w", err)
	}
	return info.Channel, nil
}
