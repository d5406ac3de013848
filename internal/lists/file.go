package lists

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nexshop/nexid/internal/risk"
)

// fileLists is the YAML layout:
//
//	trusted:
//	  ips: [203.0.113.10]
//	  emailHashes: [9f86d0...]
//	  userIds: [u-42]
//	blocked:
//	  ips: [198.51.100.23]
type fileLists struct {
	Trusted fileGroup `yaml:"trusted"`
	Blocked fileGroup `yaml:"blocked"`
}

type fileGroup struct {
	IPs         []string `yaml:"ips"`
	EmailHashes []string `yaml:"emailHashes"`
	UserIDs     []string `yaml:"userIds"`
}

// File reads lists from a YAML document on disk.
type File struct {
	path string
}

// NewFile creates a YAML file source.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string { return "file:" + f.path }

func (f *File) Load(context.Context) ([]Entry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML decodes a list document. Unknown keys are rejected so typos do
// not silently produce empty lists.
func ParseYAML(data []byte) ([]Entry, error) {
	var doc fileLists
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse list file: %w", err)
	}

	s := NewStatic("")
	for _, g := range []struct {
		v Verdict
		g fileGroup
	}{{Trusted, doc.Trusted}, {Blocked, doc.Blocked}} {
		s.Add(g.v, risk.KindIP, g.g.IPs...)
		s.Add(g.v, risk.KindEmailHash, g.g.EmailHashes...)
		s.Add(g.v, risk.KindUserID, g.g.UserIDs...)
	}
	return s.entries, nil
}
