// Package cloudinit builds #cloud-config documents for first-boot VM
// configuration: packages to install and commands to run.
//
// Rendering is deterministic: equal documents produce byte-identical
// output, so the rendered form can participate in resource identity
// hashes.
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a file written to the instance at first boot.
type File struct {
	Path        string `yaml:"path" json:"path"`
	Content     string `yaml:"content" json:"content"`
	Permissions string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	Owner       string `yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Document is a declarative cloud-init configuration. The zero value
// renders an empty (but valid) #cloud-config document.
type Document struct {
	PackageUpdate  bool     `yaml:"package_update,omitempty" json:"package_update,omitempty"`
	PackageUpgrade bool     `yaml:"package_upgrade,omitempty" json:"package_upgrade,omitempty"`
	Packages       []string `yaml:"packages,omitempty" json:"packages,omitempty"`
	WriteFiles     []File   `yaml:"write_files,omitempty" json:"write_files,omitempty"`
	RunCmd         []string `yaml:"runcmd,omitempty" json:"runcmd,omitempty"`
}

// IsZero reports whether the document carries no configuration at all.
func (d Document) IsZero() bool {
	return !d.PackageUpdate && !d.PackageUpgrade &&
		len(d.Packages) == 0 && len(d.WriteFiles) == 0 && len(d.RunCmd) == 0
}

// Validate rejects documents that cloud-init would silently misapply.
func (d Document) Validate() error {
	for i, pkg := range d.Packages {
		if strings.TrimSpace(pkg) == "" {
			return fmt.Errorf("cloud-init: package %d is empty", i)
		}
	}
	for i, f := range d.WriteFiles {
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("cloud-init: write_files entry %d has no path", i)
		}
		if !strings.HasPrefix(f.Path, "/") {
			return fmt.Errorf("cloud-init: write_files path %q is not absolute", f.Path)
		}
	}
	for i, cmd := range d.RunCmd {
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("cloud-init: runcmd entry %d is empty", i)
		}
	}
	return nil
}

// Parse decodes a YAML cloud-init document. A leading "#cloud-config"
// header line is accepted and ignored.
func Parse(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("parse cloud-init document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Render produces the #cloud-config document. Key order is fixed so the
// output is stable across runs.
func (d Document) Render() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	if d.PackageUpdate {
		appendBool(root, "package_update", true)
	}
	if d.PackageUpgrade {
		appendBool(root, "package_upgrade", true)
	}
	if len(d.Packages) > 0 {
		appendStrings(root, "packages", d.Packages)
	}
	if len(d.WriteFiles) > 0 {
		files := &yaml.Node{Kind: yaml.SequenceNode}
		for _, f := range d.WriteFiles {
			entry := &yaml.Node{Kind: yaml.MappingNode}
			appendString(entry, "path", f.Path)
			appendString(entry, "content", f.Content)
			if f.Permissions != "" {
				appendString(entry, "permissions", f.Permissions)
			}
			if f.Owner != "" {
				appendString(entry, "owner", f.Owner)
			}
			files.Content = append(files.Content, entry)
		}
		appendNode(root, "write_files", files)
	}
	if len(d.RunCmd) > 0 {
		appendStrings(root, "runcmd", d.RunCmd)
	}

	var sb strings.Builder
	sb.WriteString("#cloud-config\n")
	if len(root.Content) > 0 {
		enc := yaml.NewEncoder(&sb)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return "", fmt.Errorf("render cloud-init document: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("render cloud-init document: %w", err)
		}
	}
	return sb.String(), nil
}

func appendNode(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalar(key), value)
}

func appendString(m *yaml.Node, key, value string) {
	appendNode(m, key, scalar(value))
}

func appendBool(m *yaml.Node, key string, value bool) {
	node := &yaml.Node{Kind: yaml.ScalarNode}
	_ = node.Encode(value)
	appendNode(m, key, node)
}

func appendStrings(m *yaml.Node, key string, values []string) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range values {
		seq.Content = append(seq.Content, scalar(v))
	}
	appendNode(m, key, seq)
}

func scalar(s string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode}
	_ = node.Encode(s)
	return node
}
