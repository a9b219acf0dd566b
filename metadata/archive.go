// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metadata

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"deps.dev/util/pip"
)

// WheelFile extracts the METADATA file from a wheel. The file format is
// defined in PEP 427 (https://peps.python.org/pep-0427/#file-format):
// metadata lives in <name>-<version>.dist-info/METADATA and there is nowhere
// else to specify dependencies.
func WheelFile(r io.ReaderAt, size int64) ([]byte, error) {
	var found []byte
	err := walkZipFiles(r, size, func(name string, r io.Reader) error {
		dir, name, ok := strings.Cut(name, "/")
		if !ok || !strings.HasSuffix(dir, ".dist-info") || name != "METADATA" {
			return nil
		}
		if found != nil {
			return &pip.UnsupportedError{Msg: "multiple METADATA files", PackageType: "wheel"}
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		found = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &pip.UnsupportedError{Msg: "no METADATA file", PackageType: "wheel"}
	}
	return found, nil
}

// SdistFile extracts the top level PKG-INFO from an sdist. The archive format
// is chosen by the filename's extension.
func SdistFile(filename string, r io.Reader) ([]byte, error) {
	var found []byte
	walkFn := func(name string, r io.Reader) error {
		// Only <name>-<version>/PKG-INFO counts, not those of bundled
		// packages.
		_, name, ok := strings.Cut(name, "/")
		if !ok || name != "PKG-INFO" {
			return nil
		}
		if found != nil {
			return &pip.UnsupportedError{Msg: "multiple top level PKG-INFO", PackageType: "sdist"}
		}
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		found = b
		return nil
	}
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		if err := walkTarFiles(gz, walkFn); err != nil {
			return nil, err
		}
	case strings.HasSuffix(lower, ".tar.bz2"):
		if err := walkTarFiles(bzip2.NewReader(r), walkFn); err != nil {
			return nil, err
		}
	case strings.HasSuffix(lower, ".tar"):
		if err := walkTarFiles(r, walkFn); err != nil {
			return nil, err
		}
	case strings.HasSuffix(lower, ".zip"):
		contents, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if err := walkZipFiles(bytes.NewReader(contents), int64(len(contents)), walkFn); err != nil {
			return nil, err
		}
	default:
		return nil, &pip.UnsupportedError{Msg: fmt.Sprintf("unsupported sdist format: %s", filename), PackageType: "sdist"}
	}
	if found == nil {
		return nil, &pip.UnsupportedError{Msg: "no PKG-INFO", PackageType: "sdist"}
	}
	return found, nil
}

// walkTarFiles applies f to the name and contents of every regular file in a
// tar archive until all have been visited or f fails.
func walkTarFiles(r io.Reader, f func(string, io.Reader) error) error {
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if h.Typeflag != tar.TypeReg {
			continue
		}
		if err := f(h.Name, tr); err != nil {
			return err
		}
	}
}

// walkZipFiles is walkTarFiles for zip archives.
func walkZipFiles(r io.ReaderAt, size int64, f func(string, io.Reader) error) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = f(zf.Name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
