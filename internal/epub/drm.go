package epub

import (
	"encoding/xml"
	"errors"
	"strings"
)

// ErrDRMProtected indicates the book is encrypted with a DRM scheme
// (Adobe ADEPT, Apple FairPlay, Readium LCP) and its content cannot be read.
var ErrDRMProtected = errors.New("epub is DRM protected")

const (
	encryptionFilePath = "META-INF/encryption.xml"
	sinfFilePath       = "META-INF/sinf.xml"
)

// fontObfuscationAlgorithms only scramble embedded fonts; the text stays readable.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true,
	"http://ns.adobe.com/pdf/enc#RC":     true,
}

type xmlEncryption struct {
	XMLName       xml.Name `xml:"encryption"`
	EncryptedData []struct {
		EncryptionMethod struct {
			Algorithm string `xml:"Algorithm,attr"`
		} `xml:"EncryptionMethod"`
	} `xml:"EncryptedData"`
}

// checkDRM inspects META-INF for DRM markers. Font obfuscation alone is fine.
func checkDRM(r *EPUBReader) error {
	if findFileInsensitive(r, sinfFilePath) != "" {
		return ErrDRMProtected
	}

	name := findFileInsensitive(r, encryptionFilePath)
	if name == "" {
		return nil
	}

	data, err := r.ReadFile(name)
	if err != nil {
		return err
	}

	var enc xmlEncryption
	if err := xml.Unmarshal(stripBOM(data), &enc); err != nil {
		// Unparseable encryption descriptors are treated as DRM
		return ErrDRMProtected
	}

	for _, ed := range enc.EncryptedData {
		if !fontObfuscationAlgorithms[ed.EncryptionMethod.Algorithm] {
			return ErrDRMProtected
		}
	}
	return nil
}

// findFileInsensitive returns the stored name matching path, ignoring case.
func findFileInsensitive(r *EPUBReader, path string) string {
	if _, ok := r.files[path]; ok {
		return path
	}
	lower := strings.ToLower(path)
	for name := range r.files {
		if strings.ToLower(name) == lower {
			return name
		}
	}
	return ""
}
